package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"layeh.com/gopus"
)

// Encoder turns one PCM frame into an opus packet.
type Encoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

const maxOpusBytes = 128000

// NewOpusEncoder returns a 48 kHz stereo encoder tuned for general audio.
func NewOpusEncoder() (Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return enc, nil
}

// Player streams clips as opus frames into a send channel. At most one clip
// plays at a time; starting another stops the first.
type Player struct {
	send       chan<- []byte
	speaking   func(bool) error
	newEncoder func() (Encoder, error)
	log        *log.Logger

	playMu sync.Mutex // serializes Play

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type PlayerOption func(*Player)

func WithEncoder(f func() (Encoder, error)) PlayerOption {
	return func(p *Player) { p.newEncoder = f }
}

// WithSpeaking sets the callback that toggles the speaking indicator
// around each clip.
func WithSpeaking(f func(bool) error) PlayerOption {
	return func(p *Player) { p.speaking = f }
}

func NewPlayer(
	send chan<- []byte,
	logger *log.Logger,
	opts ...PlayerOption,
) *Player {
	p := &Player{
		send:       send,
		newEncoder: NewOpusEncoder,
		log:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play opens path and starts streaming it in the background. Errors opening
// or decoding the clip are returned here; the current clip, if any, keeps
// playing in that case.
func (p *Player) Play(path string) error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	clip, err := OpenClip(path)
	if err != nil {
		return err
	}

	enc, err := p.newEncoder()
	if err != nil {
		clip.Close()
		return err
	}

	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.stream(ctx, clip, enc, done)
	return nil
}

func (p *Player) stream(
	ctx context.Context,
	clip *Clip,
	enc Encoder,
	done chan struct{},
) {
	defer close(done)
	defer clip.Close()

	p.setSpeaking(true)
	defer p.setSpeaking(false)

	frames := 0
	pcm := make([]int16, FrameSize*Channels)
	for {
		err := clip.ReadFrame(pcm)
		if errors.Is(err, io.EOF) {
			p.log.Debug("clip finished", "frames", frames)
			return
		}
		if err != nil {
			p.log.Error("read clip", "error", err)
			return
		}

		if err := p.encodeAndSendFrame(ctx, enc, pcm); err != nil {
			p.log.Debug("clip interrupted", "frames", frames)
			return
		}
		frames++
	}
}

func (p *Player) encodeAndSendFrame(
	ctx context.Context,
	enc Encoder,
	pcm []int16,
) error {
	opusData, err := enc.Encode(pcm, FrameSize, maxOpusBytes)
	if err != nil {
		p.log.Warn("encode frame", "error", err)
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.send <- opusData:
		return nil
	}
}

func (p *Player) setSpeaking(on bool) {
	if p.speaking == nil {
		return
	}
	if err := p.speaking(on); err != nil {
		p.log.Warn("set speaking state", "speaking", on, "error", err)
	}
}

// Stop interrupts the current clip and waits for its stream to end.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
