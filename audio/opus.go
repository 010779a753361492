package audio

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

// Decoder turns one speaker's opus packets back into 48 kHz stereo PCM.
// Gaps in the sequence are concealed rather than left as silence.
type Decoder struct {
	dec     *opus.Decoder
	pcm     []int16
	lastSeq uint16
	started bool
}

func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &Decoder{
		dec: dec,
		// 120 ms is the longest opus frame.
		pcm: make([]int16, 6*FrameSize*Channels),
	}, nil
}

// Decode returns the PCM for a packet with the given sequence number. Up to
// a few lost packets before it are filled in by concealment. The returned
// slice is only valid until the next call.
func (d *Decoder) Decode(seq uint16, data []byte) ([]int16, error) {
	var out []int16

	if d.started {
		lost := int(seq - d.lastSeq - 1)
		if lost > 0 && lost <= 5 {
			for i := 0; i < lost; i++ {
				frame := make([]int16, FrameSize*Channels)
				if err := d.dec.DecodePLC(frame); err == nil {
					out = append(out, frame...)
				}
			}
		}
	}
	d.lastSeq = seq
	d.started = true

	n, err := d.dec.Decode(data, d.pcm)
	if err != nil {
		return out, fmt.Errorf("decode opus packet: %w", err)
	}
	return append(out, d.pcm[:n*Channels]...), nil
}

// OggRecorder writes one speaker's raw opus packets to an Ogg Opus file,
// padding gaps in the RTP timeline with silent frames.
type OggRecorder struct {
	writer        *oggwriter.OggWriter
	lastTimestamp uint32
	started       bool
	log           *log.Logger
}

// silentFrame is a 20 ms opus frame of digital silence.
var silentFrame = []byte{0xf8, 0xff, 0xfe}

func NewOggRecorder(w io.Writer, logger *log.Logger) (*OggRecorder, error) {
	ogg, err := oggwriter.NewWith(w, SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}
	return &OggRecorder{writer: ogg, log: logger}, nil
}

func (r *OggRecorder) WritePacket(seq uint16, timestamp uint32, payload []byte) error {
	if r.started {
		if gap := timestamp - r.lastTimestamp; gap > FrameSize && gap < 10*SampleRate {
			if err := r.fillSilence(gap); err != nil {
				return err
			}
		}
	}

	err := r.writer.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			SequenceNumber: seq,
			Timestamp:      timestamp,
		},
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("write opus packet: %w", err)
	}

	r.lastTimestamp = timestamp
	r.started = true
	return nil
}

func (r *OggRecorder) fillSilence(gap uint32) error {
	count := gap/FrameSize - 1
	r.log.Debug("filling gap", "frames", count, "samples", gap)
	for i := uint32(1); i <= count; i++ {
		err := r.writer.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Timestamp: r.lastTimestamp + i*FrameSize,
			},
			Payload: silentFrame,
		})
		if err != nil {
			return fmt.Errorf("write silent frame: %w", err)
		}
	}
	return nil
}

func (r *OggRecorder) Close() error {
	return r.writer.Close()
}
