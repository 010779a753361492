package audio

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeTone writes a mono 16-bit WAV sine tone and returns its path.
func writeTone(t *testing.T, rate int, d time.Duration) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	n := int(d.Seconds() * float64(rate))
	data := make([]int, n)
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenClipErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenClip(filepath.Join(dir, "missing.mp3"))
	if !errors.Is(err, ErrClipNotFound) {
		t.Errorf("missing file: err = %v, want ErrClipNotFound", err)
	}

	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("based"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = OpenClip(txt)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("txt file: err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestClipReadFrameResamples(t *testing.T) {
	path := writeTone(t, 24000, 100*time.Millisecond)

	clip, err := OpenClip(path)
	if err != nil {
		t.Fatalf("OpenClip: %v", err)
	}
	defer clip.Close()

	if clip.SourceRate() != 24000 {
		t.Errorf("SourceRate = %d, want 24000", clip.SourceRate())
	}

	frames := 0
	pcm := make([]int16, FrameSize*Channels)
	for {
		err := clip.ReadFrame(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		frames++
		if frames > 20 {
			t.Fatal("clip never ended")
		}
	}

	// 100 ms at 48 kHz is five 20 ms frames, give or take resampler slack.
	if frames < 4 || frames > 6 {
		t.Errorf("frames = %d, want about 5", frames)
	}
}

func TestReadFrameShortBuffer(t *testing.T) {
	clip, err := OpenClip(writeTone(t, 48000, 40*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer clip.Close()

	if err := clip.ReadFrame(make([]int16, 10)); err == nil {
		t.Error("expected an error for a short buffer")
	}
}

func TestLoadSpeechAndEncodeWAV(t *testing.T) {
	samples, err := LoadSpeech(writeTone(t, 48000, 500*time.Millisecond))
	if err != nil {
		t.Fatalf("LoadSpeech: %v", err)
	}

	want := SpeechRate / 2
	if d := len(samples) - want; d < -400 || d > 400 {
		t.Errorf("len(samples) = %d, want about %d", len(samples), want)
	}

	blob, err := EncodeWAV(samples)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(blob))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != SpeechRate || dec.NumChans != 1 {
		t.Errorf("format = %d Hz %d ch, want %d Hz mono", dec.SampleRate, dec.NumChans, SpeechRate)
	}
	if len(buf.Data) != len(samples) {
		t.Errorf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
}

func TestToSpeechEmpty(t *testing.T) {
	if got := ToSpeech(nil); got != nil {
		t.Errorf("ToSpeech(nil) = %v, want nil", got)
	}
}

func TestSeekBuffer(t *testing.T) {
	var b seekBuffer
	b.Write([]byte("hello world"))
	if _, err := b.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	b.Write([]byte("HELLO"))
	if _, err := b.Seek(-5, io.SeekEnd); err != nil {
		t.Fatal(err)
	}
	b.Write([]byte("WORLD!"))

	if got := string(b.Bytes()); got != "HELLO WORLD!" {
		t.Errorf("buffer = %q, want %q", got, "HELLO WORLD!")
	}
	if _, err := b.Seek(-100, io.SeekCurrent); err == nil {
		t.Error("expected an error seeking before the start")
	}
}

type MockEncoder struct {
	frames int
}

func (e *MockEncoder) Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error) {
	e.frames++
	return []byte{byte(e.frames)}, nil
}

func newTestPlayer(send chan []byte) *Player {
	return NewPlayer(
		send,
		log.New(io.Discard),
		WithEncoder(func() (Encoder, error) { return &MockEncoder{}, nil }),
	)
}

func TestPlayerPlaysWholeClip(t *testing.T) {
	send := make(chan []byte, 64)
	var speaking []bool
	p := NewPlayer(
		send,
		log.New(io.Discard),
		WithEncoder(func() (Encoder, error) { return &MockEncoder{}, nil }),
		WithSpeaking(func(on bool) error {
			speaking = append(speaking, on)
			return nil
		}),
	)

	if err := p.Play(writeTone(t, 48000, 100*time.Millisecond)); err != nil {
		t.Fatalf("Play: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Playing() {
		if time.Now().After(deadline) {
			t.Fatal("clip did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(send) != 5 {
		t.Errorf("sent %d frames, want 5", len(send))
	}
	if len(speaking) != 2 || !speaking[0] || speaking[1] {
		t.Errorf("speaking = %v, want [true false]", speaking)
	}
}

func TestPlayerStop(t *testing.T) {
	// Unbuffered and never drained, so the stream blocks on its first frame.
	send := make(chan []byte)
	p := newTestPlayer(send)

	if p.Playing() {
		t.Error("idle player reports playing")
	}

	if err := p.Play(writeTone(t, 48000, time.Second)); err != nil {
		t.Fatal(err)
	}
	if !p.Playing() {
		t.Error("Playing = false right after Play")
	}

	p.Stop()
	if p.Playing() {
		t.Error("Playing = true after Stop")
	}

	// Stop on an idle player is a no-op.
	p.Stop()
}

func TestPlayerReplacesCurrentClip(t *testing.T) {
	send := make(chan []byte)
	p := newTestPlayer(send)
	path := writeTone(t, 48000, time.Second)

	if err := p.Play(path); err != nil {
		t.Fatal(err)
	}
	first := p.done

	if err := p.Play(path); err != nil {
		t.Fatal(err)
	}

	select {
	case <-first:
	default:
		t.Error("first clip still streaming after a second Play")
	}
	p.Stop()
}

func TestPlayerMissingClipKeepsCurrent(t *testing.T) {
	send := make(chan []byte)
	p := newTestPlayer(send)

	if err := p.Play(writeTone(t, 48000, time.Second)); err != nil {
		t.Fatal(err)
	}

	err := p.Play(filepath.Join(t.TempDir(), "gone.mp3"))
	if !errors.Is(err, ErrClipNotFound) {
		t.Errorf("err = %v, want ErrClipNotFound", err)
	}
	if !p.Playing() {
		t.Error("failed Play stopped the current clip")
	}
	p.Stop()
}
