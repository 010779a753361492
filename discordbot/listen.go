package discordbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	dis "github.com/bwmarrin/discordgo"
	"github.com/nrednav/cuid2"

	"basedbot/audio"
	"basedbot/keyword"
	"basedbot/stt"
	"basedbot/voice"
)

// Utterance is one transcribed stretch of speech on its way from a worker
// to the dispatcher.
type Utterance struct {
	GuildID   string
	SessionID string
	UserID    string
	Text      string
}

// packetSource is what a connection must offer to be listened to.
type packetSource interface {
	Packets() <-chan *dis.Packet
	OnSpeaking(func(ssrc uint32, userID string))
}

type pcmDecoder interface {
	Decode(seq uint16, data []byte) ([]int16, error)
}

func newOpusDecoder() (pcmDecoder, error) {
	return audio.NewDecoder()
}

const flushInterval = 100 * time.Millisecond

// listen starts a listener for s. It is the registry's ListenFunc.
func (bot *Bot) listen(s *voice.Session) func() {
	if bot.recognizer == nil {
		return func() {}
	}

	src, ok := s.Connection().(packetSource)
	if !ok {
		bot.voiceLog.Warn("connection cannot receive audio", "guild", s.GuildID)
		return func() {}
	}

	l := &listener{
		bot:       bot,
		session:   s,
		segmenter: audio.NewSegmenter(bot.opts.Segmenter),
		decoders:  make(map[uint32]pcmDecoder),
		recorders: make(map[uint32]*audio.OggRecorder),
		speakers:  make(map[uint32]string),
	}
	src.OnSpeaking(l.setSpeaker)

	ctx, cancel := context.WithCancel(bot.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer bot.recoverPanic("listener")
		l.run(ctx, src.Packets())
	}()

	bot.voiceLog.Debug("listening", "guild", s.GuildID, "session", s.ID)
	return func() {
		src.OnSpeaking(nil)
		cancel()
		<-done
	}
}

type listener struct {
	bot       *Bot
	session   *voice.Session
	segmenter *audio.Segmenter
	decoders  map[uint32]pcmDecoder
	recorders map[uint32]*audio.OggRecorder

	mu       sync.Mutex
	speakers map[uint32]string // ssrc -> user id
}

func (l *listener) setSpeaker(ssrc uint32, userID string) {
	l.mu.Lock()
	l.speakers[ssrc] = userID
	l.mu.Unlock()
}

func (l *listener) speaker(ssrc uint32) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.speakers[ssrc]
}

func (l *listener) run(ctx context.Context, packets <-chan *dis.Packet) {
	defer l.closeRecorders()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-packets:
			if !ok {
				return
			}
			l.handlePacket(ctx, p, time.Now())
		case now := <-ticker.C:
			for _, seg := range l.segmenter.Flush(now) {
				l.submit(ctx, seg)
			}
		}
	}
}

func (l *listener) handlePacket(ctx context.Context, p *dis.Packet, now time.Time) {
	if p == nil || len(p.Opus) == 0 {
		return
	}

	dec, ok := l.decoders[p.SSRC]
	if !ok {
		var err error
		dec, err = l.bot.newDecoder()
		if err != nil {
			l.bot.voiceLog.Error("create decoder", "ssrc", p.SSRC, "error", err)
			return
		}
		l.decoders[p.SSRC] = dec
	}

	pcm, err := dec.Decode(p.Sequence, p.Opus)
	if err != nil {
		l.bot.voiceLog.Debug("drop packet", "ssrc", p.SSRC, "error", err)
		return
	}

	l.record(p)

	if seg, ok := l.segmenter.Push(p.SSRC, pcm, now); ok {
		l.submit(ctx, seg)
	}
}

// submit hands a finished segment to a transcription worker.
func (l *listener) submit(ctx context.Context, seg audio.Segment) {
	bot := l.bot
	info := Utterance{
		GuildID:   l.session.GuildID,
		SessionID: l.session.ID,
		UserID:    l.speaker(seg.SSRC),
	}

	bot.wg.Add(1)
	go func() {
		defer bot.wg.Done()
		defer bot.recoverPanic("transcription")
		bot.transcribe(ctx, info, seg)
	}()
}

func (bot *Bot) transcribe(ctx context.Context, u Utterance, seg audio.Segment) {
	if err := bot.workers.Acquire(ctx, 1); err != nil {
		return
	}
	defer bot.workers.Release(1)

	text, err := bot.recognizer.Transcribe(ctx, audio.ToSpeech(seg.PCM))
	var serr *stt.ServiceError
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		bot.voiceLog.Debug("no speech", "guild", u.GuildID, "user", u.UserID, "length", seg.Duration())
		return
	case errors.As(err, &serr):
		bot.voiceLog.Warn("transcription failed", "guild", u.GuildID, "user", u.UserID, "error", err)
		return
	case err != nil:
		if ctx.Err() == nil {
			bot.voiceLog.Warn("transcription failed", "guild", u.GuildID, "error", err)
		}
		return
	}

	u.Text = text
	select {
	case bot.utterances <- u:
	case <-ctx.Done():
	}
}

// dispatchUtterances is the only goroutine that receives transcriptions.
// Playback for each one runs on its own goroutine, since Play waits for the
// guild lock and a slow join in one guild must not hold up the others.
func (bot *Bot) dispatchUtterances() {
	defer bot.wg.Done()
	for {
		select {
		case <-bot.ctx.Done():
			return
		case u := <-bot.utterances:
			if !bot.current(u) {
				bot.voiceLog.Debug("utterance for a finished session", "guild", u.GuildID, "session", u.SessionID)
				continue
			}
			bot.wg.Add(1)
			go func() {
				defer bot.wg.Done()
				bot.handleUtterance(u)
			}()
		}
	}
}

// current reports, without waiting for the guild lock, whether u belongs
// to the guild's tracked session.
func (bot *Bot) current(u Utterance) bool {
	s, ok := bot.registry.Session(u.GuildID)
	return ok && s.ID == u.SessionID
}

func (bot *Bot) handleUtterance(u Utterance) {
	defer bot.recoverPanic("utterance")

	if u.Text == "" || !bot.current(u) {
		return
	}

	bot.voiceLog.Info(
		"recognized",
		"guild", u.GuildID,
		"user", u.UserID,
		"text", u.Text,
	)

	if !keyword.Contains(u.Text, bot.opts.VoiceKeyword) {
		return
	}

	bot.voiceLog.Info("voice keyword", "guild", u.GuildID, "user", u.UserID)

	err := bot.registry.Play(u.GuildID, u.SessionID, bot.opts.ClipPath)
	switch {
	case err == nil:
		bot.voiceLog.Info("playing", "guild", u.GuildID, "clip", bot.opts.ClipPath)
	case errors.Is(err, voice.ErrStaleSession), errors.Is(err, voice.ErrNotPresent):
		bot.voiceLog.Debug("keyword for a finished session", "guild", u.GuildID, "error", err)
	default:
		bot.voiceLog.Error("playback failed", "guild", u.GuildID, "error", err)
		bot.reportPlaybackError(u, err)
	}
}

// reportPlaybackError tells the session's text channel about a playback
// failure, once per session.
func (bot *Bot) reportPlaybackError(u Utterance, err error) {
	s, ok := bot.registry.Session(u.GuildID)
	if !ok || s.ID != u.SessionID {
		return
	}

	bot.mu.Lock()
	seen := bot.reported[s.ID]
	bot.reported[s.ID] = true
	bot.mu.Unlock()
	if seen {
		return
	}

	msg := fmt.Sprintf("An error occurred while trying to play the audio: %v", err)
	if errors.Is(err, audio.ErrClipNotFound) {
		msg = fmt.Sprintf("Error: audio clip not found at '%s'", bot.opts.ClipPath)
	}
	bot.send(s.TextChannelID(), msg)
}

func (l *listener) record(p *dis.Packet) {
	dir := l.bot.opts.RecordDir
	if dir == "" {
		return
	}

	rec, ok := l.recorders[p.SSRC]
	if !ok {
		name := fmt.Sprintf("%s-%d-%s.ogg", l.session.GuildID, p.SSRC, cuid2.Generate())
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			l.bot.voiceLog.Warn("create recording", "error", err)
			l.recorders[p.SSRC] = nil
			return
		}
		rec, err = audio.NewOggRecorder(f, l.bot.voiceLog)
		if err != nil {
			f.Close()
			l.bot.voiceLog.Warn("create recording", "error", err)
			l.recorders[p.SSRC] = nil
			return
		}
		l.recorders[p.SSRC] = rec
		l.bot.voiceLog.Debug("recording", "ssrc", p.SSRC, "user", l.speaker(p.SSRC), "file", name)
	}
	if rec == nil {
		return
	}

	if err := rec.WritePacket(p.Sequence, p.Timestamp, p.Opus); err != nil {
		l.bot.voiceLog.Warn("write recording", "ssrc", p.SSRC, "error", err)
	}
}

func (l *listener) closeRecorders() {
	for ssrc, rec := range l.recorders {
		if rec == nil {
			continue
		}
		if err := rec.Close(); err != nil {
			l.bot.voiceLog.Warn("close recording", "ssrc", ssrc, "error", err)
		}
	}
}
