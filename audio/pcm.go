package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SpeechRate is the sample rate speech recognizers expect.
const SpeechRate = 16000

// pcmStreamer exposes interleaved 48 kHz stereo int16 samples as a beep
// stream so beep's resampler can work on it.
type pcmStreamer struct {
	pcm []int16
	pos int
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	frames := len(s.pcm) / Channels
	if s.pos >= frames {
		return 0, false
	}
	n := 0
	for n < len(samples) && s.pos < frames {
		samples[n][0] = float64(s.pcm[2*s.pos]) / 32768
		samples[n][1] = float64(s.pcm[2*s.pos+1]) / 32768
		s.pos++
		n++
	}
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

// ToSpeech converts interleaved 48 kHz stereo PCM into 16 kHz mono float
// samples in [-1, 1].
func ToSpeech(pcm []int16) []float32 {
	if len(pcm) < Channels {
		return nil
	}

	r := beep.Resample(3, SampleRate, SpeechRate, &pcmStreamer{pcm: pcm})
	out := make([]float32, 0, len(pcm)/Channels/3+1)
	buf := make([][2]float64, 512)
	for {
		n, ok := r.Stream(buf)
		for _, s := range buf[:n] {
			out = append(out, float32((s[0]+s[1])/2))
		}
		if !ok {
			break
		}
	}
	return out
}

// LoadSpeech decodes any clip format OpenClip accepts into 16 kHz mono.
func LoadSpeech(path string) ([]float32, error) {
	clip, err := OpenClip(path)
	if err != nil {
		return nil, err
	}
	defer clip.Close()

	var pcm []int16
	frame := make([]int16, FrameSize*Channels)
	for {
		err := clip.ReadFrame(frame)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, frame...)
	}
	return ToSpeech(pcm), nil
}

// EncodeWAV renders 16 kHz mono samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32) ([]byte, error) {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(toInt16(float64(s)))
	}

	var buf seekBuffer
	enc := wav.NewEncoder(&buf, SpeechRate, 16, 1, 1)
	err := enc.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  SpeechRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finish wav: %w", err)
	}
	return buf.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes once the data is written.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

func (b *seekBuffer) Bytes() []byte {
	return b.data
}
