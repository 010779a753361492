package discordbot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"basedbot/audio"
	"basedbot/keyword"
	"basedbot/stt"
	"basedbot/voice"
)

type CommandHandler func(*dis.MessageCreate, []string) error

type Options struct {
	Prefixes     []string
	TextKeyword  string
	VoiceKeyword string
	ClipPath     string
	Engine       stt.Engine
	Workers      int
	Segmenter    audio.SegmenterConfig
	// RecordDir, when set, receives an Ogg Opus file per speaker and session.
	RecordDir string
}

type Bot struct {
	discord    Discord
	log        *log.Logger
	voiceLog   *log.Logger
	opts       Options
	recognizer stt.Recognizer
	registry   *voice.Registry
	newDecoder func() (pcmDecoder, error)

	commands map[string]CommandHandler

	ctx        context.Context
	cancel     context.CancelFunc
	utterances chan Utterance
	workers    *semaphore.Weighted
	wg         sync.WaitGroup

	mu       sync.Mutex
	userID   string
	reported map[string]bool // session id
}

// NewBot wires the handlers and opens the gateway connection. A nil
// recognizer gives a text-only bot: keyword replies work, joining voice is
// refused.
func NewBot(
	discord Discord,
	recognizer stt.Recognizer,
	opts Options,
	chatLogger, voiceLogger *log.Logger,
) (*Bot, error) {
	bot := newBot(discord, nil, recognizer, opts, chatLogger, voiceLogger)

	if err := bot.discord.Open(); err != nil {
		bot.cancel()
		return nil, fmt.Errorf("error opening connection: %w", err)
	}

	bot.log.Info("bot connected")
	return bot, nil
}

// newBot builds a bot without touching the network. A nil gateway means
// the real discordgo one.
func newBot(
	discord Discord,
	gateway voice.Gateway,
	recognizer stt.Recognizer,
	opts Options,
	chatLogger, voiceLogger *log.Logger,
) *Bot {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Segmenter == (audio.SegmenterConfig{}) {
		opts.Segmenter = audio.DefaultSegmenterConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	bot := &Bot{
		discord:    discord,
		log:        chatLogger,
		voiceLog:   voiceLogger,
		opts:       opts,
		recognizer: recognizer,
		newDecoder: newOpusDecoder,
		commands:   make(map[string]CommandHandler),
		ctx:        ctx,
		cancel:     cancel,
		utterances: make(chan Utterance, 32),
		workers:    semaphore.NewWeighted(int64(opts.Workers)),
		reported:   make(map[string]bool),
	}

	if gateway == nil {
		gateway = newVoiceGateway(discord, voiceLogger)
	}
	bot.registry = voice.NewRegistry(gateway, bot.listen, voiceLogger)

	bot.registerCommands()

	bot.discord.AddHandler(bot.handleReady)
	bot.discord.AddHandler(bot.handleMessageCreate)
	bot.discord.AddHandler(bot.handleVoiceStateUpdate)

	bot.wg.Add(1)
	go bot.dispatchUtterances()

	return bot
}

// Close leaves every voice channel, waits for in-flight transcriptions and
// closes the gateway connection.
func (bot *Bot) Close() error {
	bot.registry.Close()
	bot.cancel()
	bot.wg.Wait()
	return bot.discord.Close()
}

func (bot *Bot) Registry() *voice.Registry {
	return bot.registry
}

// recoverPanic keeps one bad event from taking the process down.
func (bot *Bot) recoverPanic(event string) {
	if r := recover(); r != nil {
		bot.log.Error(
			"handler panicked",
			"event", event,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}

func (bot *Bot) me() string {
	bot.mu.Lock()
	id := bot.userID
	bot.mu.Unlock()
	if id != "" {
		return id
	}

	id, err := bot.discord.MyUserID()
	if err != nil {
		return ""
	}
	bot.mu.Lock()
	bot.userID = id
	bot.mu.Unlock()
	return id
}

func (bot *Bot) handleReady(_ *dis.Session, r *dis.Ready) {
	defer bot.recoverPanic("ready")

	if r.User != nil {
		bot.mu.Lock()
		bot.userID = r.User.ID
		bot.mu.Unlock()
		bot.log.Info("logged in", "user", r.User.Username, "id", r.User.ID)
	}

	if bot.recognizer == nil {
		bot.log.Warn("speech recognition unavailable, voice commands disabled", "engine", bot.opts.Engine)
	}

	bot.log.Info(
		"ready",
		"engine", bot.opts.Engine,
		"text keyword", bot.opts.TextKeyword,
		"voice keyword", bot.opts.VoiceKeyword,
		"guilds", len(r.Guilds),
		"discordgo", dis.VERSION,
	)

	if err := checkClip(bot.opts.ClipPath); err != nil {
		bot.log.Warn("voice playback will fail", "clip", bot.opts.ClipPath, "error", err)
	} else {
		bot.log.Info("clip found", "clip", bot.opts.ClipPath)
	}
}

// checkClip makes sure the clip exists and decodes.
func checkClip(path string) error {
	clip, err := audio.OpenClip(path)
	if err != nil {
		return err
	}
	return clip.Close()
}

// prefixes are the configured command prefixes plus both mention forms.
func (bot *Bot) prefixes() []string {
	prefixes := append([]string(nil), bot.opts.Prefixes...)
	if id := bot.me(); id != "" {
		prefixes = append(prefixes, "<@"+id+">", "<@!"+id+">")
	}
	return prefixes
}

func (bot *Bot) handleMessageCreate(_ *dis.Session, m *dis.MessageCreate) {
	defer bot.recoverPanic("message create")

	if m.Author == nil || m.Author.Bot || m.Author.ID == bot.me() {
		return
	}

	prefixes := bot.prefixes()

	if keyword.ShouldReply(m.Content, bot.opts.TextKeyword, prefixes...) {
		bot.reply(m.Message, bot.opts.TextKeyword)
	}

	bot.dispatchCommand(m, prefixes)
}

func (bot *Bot) dispatchCommand(m *dis.MessageCreate, prefixes []string) {
	var rest string
	matched := false
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(m.Content, prefix) {
			rest = m.Content[len(prefix):]
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	args := strings.Fields(rest)
	if len(args) == 0 {
		return
	}

	commandName := strings.ToLower(args[0])
	handler, exists := bot.commands[commandName]
	if !exists {
		bot.log.Debug("unknown command", "command", commandName)
		return
	}

	if m.GuildID == "" {
		bot.send(m.ChannelID, "Voice commands only work in a server.")
		return
	}

	bot.log.Info(
		"command",
		"command", commandName,
		"user", m.Author.Username,
		"guild", m.GuildID,
	)

	if err := handler(m, args[1:]); err != nil {
		bot.log.Error(
			"command execution failed",
			"command", commandName,
			"error", err,
		)
		bot.send(m.ChannelID, fmt.Sprintf("Error executing command: %s", err))
	}
}

func (bot *Bot) reply(m *dis.Message, content string) {
	_, err := bot.discord.ChannelMessageSendReply(m.ChannelID, content, m.Reference())
	if err == nil {
		bot.log.Info(
			"replied",
			"channel", m.ChannelID,
			"user", m.Author.Username,
			"content", m.Content,
		)
		return
	}
	bot.logSendError(m.ChannelID, err)
}

func (bot *Bot) send(channelID, content string) {
	if _, err := bot.discord.ChannelMessageSend(channelID, content); err != nil {
		bot.logSendError(channelID, err)
	}
}

func (bot *Bot) logSendError(channelID string, err error) {
	if isPermissionError(err) {
		bot.log.Warn("missing permissions to send", "channel", channelID, "error", err)
		return
	}
	bot.log.Error("failed to send message", "channel", channelID, "error", err)
}

func isPermissionError(err error) bool {
	var restErr *dis.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return true
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case dis.ErrCodeMissingAccess, dis.ErrCodeMissingPermissions:
			return true
		}
	}
	return false
}
