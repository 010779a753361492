package discordbot

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"basedbot/audio"
	"basedbot/stt"
	"basedbot/voice"
)

type sentMessage struct {
	ChannelID string
	Content   string
	Reply     bool
}

type MockDiscord struct {
	mu       sync.Mutex
	userID   string
	voice    map[string]string // user id -> voice channel id
	sent     []sentMessage
	sendErr  error
	handlers int
}

func (d *MockDiscord) AddHandler(handler interface{}) func() {
	d.mu.Lock()
	d.handlers++
	d.mu.Unlock()
	return func() {}
}

func (d *MockDiscord) Open() error  { return nil }
func (d *MockDiscord) Close() error { return nil }

func (d *MockDiscord) ChannelVoiceJoin(gID, cID string, mute, deaf bool) (*dis.VoiceConnection, error) {
	return nil, errors.New("not used in tests")
}

func (d *MockDiscord) ChannelMessageSend(
	channelID string,
	content string,
	options ...dis.RequestOption,
) (*dis.Message, error) {
	return d.record(channelID, content, false)
}

func (d *MockDiscord) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *dis.MessageReference,
	options ...dis.RequestOption,
) (*dis.Message, error) {
	return d.record(channelID, content, true)
}

func (d *MockDiscord) record(channelID, content string, reply bool) (*dis.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return nil, d.sendErr
	}
	d.sent = append(d.sent, sentMessage{channelID, content, reply})
	return &dis.Message{ChannelID: channelID, Content: content}, nil
}

func (d *MockDiscord) MyUserID() (string, error) {
	return d.userID, nil
}

func (d *MockDiscord) UserVoiceChannel(guildID, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.voice[userID]; ok {
		return ch, nil
	}
	return "", ErrNotInVoice
}

func (d *MockDiscord) VoiceConnection(guildID string) (*dis.VoiceConnection, bool) {
	return nil, false
}

func (d *MockDiscord) setVoice(userID, channelID string) {
	d.mu.Lock()
	d.voice[userID] = channelID
	d.mu.Unlock()
}

func (d *MockDiscord) messages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sent...)
}

func (d *MockDiscord) last() string {
	msgs := d.messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

type MockPlayer struct {
	mu      sync.Mutex
	playing bool
	played  []string
	playErr error
}

func (p *MockPlayer) Play(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.played = append(p.played, path)
	p.playing = true
	return nil
}

func (p *MockPlayer) Stop() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

func (p *MockPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *MockPlayer) plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

// MockConnection is a voice connection that also delivers packets.
type MockConnection struct {
	mu        sync.Mutex
	channelID string
	connected bool
	moveErr   error
	player    *MockPlayer
	packets   chan *dis.Packet
	speaking  func(uint32, string)
}

func (c *MockConnection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *MockConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MockConnection) Move(channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.moveErr != nil {
		return c.moveErr
	}
	c.channelID = channelID
	return nil
}

func (c *MockConnection) Disconnect(force bool) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *MockConnection) Player() voice.Player {
	return c.player
}

func (c *MockConnection) Packets() <-chan *dis.Packet {
	return c.packets
}

func (c *MockConnection) OnSpeaking(f func(uint32, string)) {
	c.mu.Lock()
	c.speaking = f
	c.mu.Unlock()
}

func (c *MockConnection) speak(ssrc uint32, userID string) {
	c.mu.Lock()
	f := c.speaking
	c.mu.Unlock()
	if f != nil {
		f(ssrc, userID)
	}
}

type MockGateway struct {
	mu         sync.Mutex
	connectErr error
	conns      map[string]*MockConnection
	// hold, when set for a guild, keeps Connect waiting until it is closed
	hold    map[string]chan struct{}
	waiting int
}

func (g *MockGateway) Connect(guildID, channelID string) (voice.Connection, error) {
	g.mu.Lock()
	hold := g.hold[guildID]
	g.mu.Unlock()
	if hold != nil {
		g.mu.Lock()
		g.waiting++
		g.mu.Unlock()
		<-hold
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connectErr != nil {
		return nil, g.connectErr
	}
	c := &MockConnection{
		channelID: channelID,
		connected: true,
		player:    &MockPlayer{},
		packets:   make(chan *dis.Packet, 64),
	}
	g.conns[guildID] = c
	return c, nil
}

func (g *MockGateway) VoiceConnection(guildID string) (voice.Connection, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[guildID]
	if !ok || !c.Connected() {
		return nil, false
	}
	return c, true
}

func (g *MockGateway) connecting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

func (g *MockGateway) conn(guildID string) *MockConnection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[guildID]
}

type MockRecognizer struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (r *MockRecognizer) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.text, r.err
}

func (r *MockRecognizer) Close() error { return nil }

// MockDecoder turns a one-byte payload into a frame: 1 is loud, anything
// else is silence.
type MockDecoder struct{}

func (MockDecoder) Decode(seq uint16, data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, errors.New("empty packet")
	}
	pcm := make([]int16, audio.FrameSize*audio.Channels)
	if data[0] == 1 {
		for i := range pcm {
			pcm[i] = 8000
		}
	}
	return pcm, nil
}

type testBot struct {
	*Bot
	discord    *MockDiscord
	gateway    *MockGateway
	recognizer *MockRecognizer
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	return newBotWith(t, &MockRecognizer{})
}

// newBotWith builds a bot around recognizer; nil means no speech engine.
func newBotWith(t *testing.T, recognizer *MockRecognizer) *testBot {
	t.Helper()

	discord := &MockDiscord{userID: "bot", voice: make(map[string]string)}
	gateway := &MockGateway{
		conns: make(map[string]*MockConnection),
		hold:  make(map[string]chan struct{}),
	}
	logger := log.New(io.Discard)

	var engine stt.Recognizer
	if recognizer != nil {
		engine = recognizer
	}

	bot := newBot(discord, gateway, engine, Options{
		Prefixes:     []string{"!"},
		TextKeyword:  "based",
		VoiceKeyword: "based",
		ClipPath:     "based.mp3",
		Engine:       stt.Whisper,
		Workers:      2,
		Segmenter: audio.SegmenterConfig{
			Silence:   50 * time.Millisecond,
			MaxLength: 10 * time.Second,
			MinVoiced: 20 * time.Millisecond,
			Threshold: 0.01,
		},
	}, logger, logger)
	bot.newDecoder = func() (pcmDecoder, error) { return MockDecoder{}, nil }

	t.Cleanup(func() { bot.Close() })
	return &testBot{bot, discord, gateway, recognizer}
}

func message(guildID, channelID, userID, content string) *dis.MessageCreate {
	return &dis.MessageCreate{Message: &dis.Message{
		ID:        "m1",
		GuildID:   guildID,
		ChannelID: channelID,
		Content:   content,
		Author:    &dis.User{ID: userID, Username: userID},
	}}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
