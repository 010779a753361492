package discordbot

import (
	"errors"

	dis "github.com/bwmarrin/discordgo"
)

var ErrNotInVoice = errors.New("user is not in a voice channel")

// Discord is the slice of *discordgo.Session the bot uses.
type Discord interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelVoiceJoin(
		gID, cID string,
		mute, deaf bool,
	) (voice *dis.VoiceConnection, err error)
	ChannelMessageSend(
		channelID string,
		content string,
		options ...dis.RequestOption,
	) (*dis.Message, error)
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *dis.MessageReference,
		options ...dis.RequestOption,
	) (*dis.Message, error)
	MyUserID() (userID string, err error)
	// UserVoiceChannel is the voice channel userID currently sits in.
	UserVoiceChannel(guildID, userID string) (channelID string, err error)
	// VoiceConnection is the library's own record of the guild's voice
	// connection, tracked by the bot or not.
	VoiceConnection(guildID string) (*dis.VoiceConnection, bool)
}

// DiscordSession adapts a *discordgo.Session to Discord.
type DiscordSession struct {
	*dis.Session
}

func (s *DiscordSession) MyUserID() (string, error) {
	if s.State == nil || s.State.User == nil {
		return "", errors.New("session has no user yet")
	}
	return s.State.User.ID, nil
}

func (s *DiscordSession) UserVoiceChannel(guildID, userID string) (string, error) {
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", ErrNotInVoice
	}
	return vs.ChannelID, nil
}

func (s *DiscordSession) VoiceConnection(guildID string) (*dis.VoiceConnection, bool) {
	s.RLock()
	defer s.RUnlock()
	vc, ok := s.VoiceConnections[guildID]
	return vc, ok && vc != nil
}
