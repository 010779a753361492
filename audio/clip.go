// Package audio turns local clips into opus frames for a voice connection
// and turns inbound voice into utterances for speech recognition.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
)

// Discord voice carries 48 kHz stereo opus in 20 ms frames.
const (
	SampleRate = 48000
	Channels   = 2
	FrameSize  = 960
)

var (
	ErrClipNotFound      = errors.New("audio: clip not found")
	ErrUnsupportedFormat = errors.New("audio: unsupported clip format")
)

// Clip is a decoded audio file, resampled to the voice sample rate and
// read one frame at a time.
type Clip struct {
	file     *os.File
	source   beep.StreamSeekCloser
	streamer beep.Streamer
	format   beep.Format
	buf      [][2]float64
	done     bool
}

// OpenClip decodes path by its extension: .mp3, .wav, .ogg or .oga.
func OpenClip(path string) (*Clip, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrClipNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open clip: %w", err)
	}

	source, format, err := decode(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}

	var streamer beep.Streamer = source
	if format.SampleRate != SampleRate {
		streamer = beep.Resample(4, format.SampleRate, SampleRate, source)
	}

	return &Clip{
		file:     f,
		source:   source,
		streamer: streamer,
		format:   format,
		buf:      make([][2]float64, FrameSize),
	}, nil
}

func decode(f *os.File, path string) (beep.StreamSeekCloser, beep.Format, error) {
	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".ogg", ".oga":
		s, format, err = vorbis.Decode(f)
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return s, format, nil
}

// SourceRate is the sample rate of the file before resampling.
func (c *Clip) SourceRate() int {
	return int(c.format.SampleRate)
}

// ReadFrame fills pcm with one interleaved stereo frame. pcm must hold
// FrameSize*Channels samples. The final frame is padded with silence.
// After the last frame ReadFrame returns io.EOF.
func (c *Clip) ReadFrame(pcm []int16) error {
	if len(pcm) < FrameSize*Channels {
		return fmt.Errorf("frame buffer too small: %d", len(pcm))
	}
	if c.done {
		return io.EOF
	}

	filled := 0
	for filled < FrameSize {
		n, ok := c.streamer.Stream(c.buf[filled:])
		filled += n
		if !ok {
			c.done = true
			break
		}
	}
	if err := c.streamer.Err(); err != nil {
		return fmt.Errorf("stream clip: %w", err)
	}
	if filled == 0 {
		return io.EOF
	}

	for i := 0; i < FrameSize; i++ {
		var l, r int16
		if i < filled {
			l = toInt16(c.buf[i][0])
			r = toInt16(c.buf[i][1])
		}
		pcm[2*i] = l
		pcm[2*i+1] = r
	}
	return nil
}

func (c *Clip) Close() error {
	err := c.source.Close()
	if cerr := c.file.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}

func toInt16(x float64) int16 {
	switch {
	case x >= 1:
		return 32767
	case x <= -1:
		return -32768
	}
	return int16(x * 32767)
}
