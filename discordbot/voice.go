package discordbot

import (
	"fmt"
	"sync"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"basedbot/audio"
	"basedbot/voice"
)

// voiceGateway implements voice.Gateway on top of discordgo. It hands out
// one voiceConn per *dis.VoiceConnection so the registry and the fallback
// lookup see the same player.
type voiceGateway struct {
	discord Discord
	log     *log.Logger

	mu    sync.Mutex
	conns map[*dis.VoiceConnection]*voiceConn
}

func newVoiceGateway(discord Discord, logger *log.Logger) *voiceGateway {
	return &voiceGateway{
		discord: discord,
		log:     logger,
		conns:   make(map[*dis.VoiceConnection]*voiceConn),
	}
}

func (g *voiceGateway) Connect(guildID, channelID string) (voice.Connection, error) {
	vc, err := g.discord.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		// A failed join can leave a half-open connection registered in the
		// session; later joins would reuse it.
		if vc == nil {
			vc, _ = g.discord.VoiceConnection(guildID)
		}
		if vc != nil {
			if derr := vc.Disconnect(); derr != nil {
				g.log.Debug("cleanup after failed join", "guild", guildID, "error", derr)
			}
			g.forget(vc)
		}
		return nil, fmt.Errorf("join voice channel: %w", err)
	}
	return g.wrap(vc), nil
}

func (g *voiceGateway) VoiceConnection(guildID string) (voice.Connection, bool) {
	vc, ok := g.discord.VoiceConnection(guildID)
	if !ok {
		return nil, false
	}
	return g.wrap(vc), true
}

func (g *voiceGateway) wrap(vc *dis.VoiceConnection) *voiceConn {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.conns[vc]; ok {
		return c
	}

	c := &voiceConn{
		vc: vc,
		gw: g,
		player: audio.NewPlayer(
			vc.OpusSend,
			g.log.With("guild", vc.GuildID),
			audio.WithSpeaking(vc.Speaking),
		),
	}
	g.conns[vc] = c
	return c
}

func (g *voiceGateway) forget(vc *dis.VoiceConnection) {
	g.mu.Lock()
	delete(g.conns, vc)
	g.mu.Unlock()
}

type voiceConn struct {
	vc     *dis.VoiceConnection
	gw     *voiceGateway
	player *audio.Player

	hook     sync.Once
	mu       sync.Mutex
	speaking func(ssrc uint32, userID string)
}

func (c *voiceConn) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

func (c *voiceConn) Connected() bool {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

func (c *voiceConn) Move(channelID string) error {
	c.player.Stop()
	if err := c.vc.ChangeChannel(channelID, false, false); err != nil {
		return fmt.Errorf("change channel: %w", err)
	}
	return nil
}

func (c *voiceConn) Disconnect(force bool) error {
	c.player.Stop()

	err := c.vc.Disconnect()
	if err == nil {
		// discordgo dropped the connection from its map; a later join gets
		// a fresh one.
		c.gw.forget(c.vc)
		return nil
	}
	if force {
		// The gateway side is already gone; drop the UDP and websocket
		// anyway.
		c.vc.Close()
	}
	return err
}

func (c *voiceConn) Player() voice.Player {
	return c.player
}

// Packets is the stream of inbound voice packets.
func (c *voiceConn) Packets() <-chan *dis.Packet {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.OpusRecv
}

// OnSpeaking routes speaking updates to f, replacing the previous
// listener's callback. A nil f drops updates.
func (c *voiceConn) OnSpeaking(f func(ssrc uint32, userID string)) {
	c.mu.Lock()
	c.speaking = f
	c.mu.Unlock()

	if f != nil {
		// discordgo has no way to remove a voice handler.
		c.hook.Do(func() { c.vc.AddHandler(c.handleSpeaking) })
	}
}

func (c *voiceConn) handleSpeaking(_ *dis.VoiceConnection, u *dis.VoiceSpeakingUpdate) {
	c.mu.Lock()
	f := c.speaking
	c.mu.Unlock()

	if f != nil && u != nil {
		f(uint32(u.SSRC), u.UserID)
	}
}

func (bot *Bot) handleVoiceStateUpdate(_ *dis.Session, v *dis.VoiceStateUpdate) {
	defer bot.recoverPanic("voice state update")

	me := bot.me()
	if v.VoiceState == nil || v.UserID == "" || v.UserID != me {
		return
	}

	if v.ChannelID != "" {
		// Dragged to another channel by someone else.
		if v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID != "" &&
			v.BeforeUpdate.ChannelID != v.ChannelID {
			bot.registry.SyncChannel(v.GuildID, bot.currentChannel(v.GuildID, v.ChannelID))
		}
		return
	}

	// Only a transition from a channel to no channel is a disconnect.
	if v.BeforeUpdate == nil || v.BeforeUpdate.ChannelID == "" {
		return
	}

	bot.voiceLog.Info(
		"left voice channel",
		"guild", v.GuildID,
		"channel", v.BeforeUpdate.ChannelID,
	)

	// Events are handled on their own goroutines, so this one may run after
	// a rejoin. The gateway state is checked under the guild lock.
	bot.registry.HandleExternalDisconnectIf(v.GuildID, func(*voice.Session) bool {
		_, err := bot.discord.UserVoiceChannel(v.GuildID, me)
		return err != nil
	})
}

// currentChannel is the bot's voice channel according to the gateway state,
// or fallback when the state has none.
func (bot *Bot) currentChannel(guildID, fallback string) string {
	if ch, err := bot.discord.UserVoiceChannel(guildID, bot.me()); err == nil {
		return ch
	}
	return fallback
}
