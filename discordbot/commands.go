package discordbot

import (
	"errors"
	"fmt"
	"strings"

	dis "github.com/bwmarrin/discordgo"

	"basedbot/voice"
)

func (bot *Bot) registerCommands() {
	bot.commands["joinbased"] = bot.handleJoinCommand
	bot.commands["leavebased"] = bot.handleLeaveCommand
	bot.commands["stopplaying"] = bot.handleStopCommand
	bot.commands["help"] = bot.handleHelpCommand
}

func (bot *Bot) handleJoinCommand(m *dis.MessageCreate, _ []string) error {
	if bot.recognizer == nil {
		bot.send(m.ChannelID, fmt.Sprintf(
			"Speech recognition is unavailable, so I can't listen for '%s'. Text replies still work.",
			bot.opts.VoiceKeyword,
		))
		return nil
	}

	channelID, err := bot.discord.UserVoiceChannel(m.GuildID, m.Author.ID)
	if err != nil {
		bot.send(m.ChannelID, "You need to be in a voice channel to use this command.")
		return nil
	}

	_, outcome, err := bot.registry.Join(m.GuildID, channelID, m.ChannelID)

	var moveErr *voice.MoveError
	switch {
	case errors.As(err, &moveErr):
		bot.send(m.ChannelID, fmt.Sprintf("Error moving to your channel: %v", moveErr.Err))
		return nil
	case errors.Is(err, voice.ErrNotConnected):
		cause := strings.TrimPrefix(err.Error(), voice.ErrNotConnected.Error()+": ")
		bot.send(m.ChannelID, fmt.Sprintf("Error connecting to voice channel: %s", cause))
		return nil
	case err != nil:
		return err
	}

	switch outcome {
	case voice.AlreadyPresent:
		bot.send(m.ChannelID, fmt.Sprintf("I'm already in <#%s> and listening.", channelID))
	case voice.Moved:
		bot.send(m.ChannelID, fmt.Sprintf("Moved to <#%s> and I'm listening.", channelID))
	case voice.Joined:
		bot.send(m.ChannelID, fmt.Sprintf(
			"Joined <#%s> and now listening for the voice keyword '%s'.",
			channelID, bot.opts.VoiceKeyword,
		))
	}
	return nil
}

func (bot *Bot) handleLeaveCommand(m *dis.MessageCreate, _ []string) error {
	outcome, err := bot.registry.Leave(m.GuildID)
	if errors.Is(err, voice.ErrNotPresent) {
		bot.send(m.ChannelID, "I'm not currently in a voice channel in this server.")
		return nil
	}
	if err != nil {
		return err
	}

	switch outcome {
	case voice.Left:
		bot.send(m.ChannelID, "Left the voice channel. No longer listening.")
	case voice.LeftUntracked:
		bot.send(m.ChannelID, "Left the voice channel.")
	}
	return nil
}

func (bot *Bot) handleStopCommand(m *dis.MessageCreate, _ []string) error {
	err := bot.registry.StopPlayback(m.GuildID)
	if errors.Is(err, voice.ErrNothingPlaying) {
		bot.send(m.ChannelID, "I'm not playing any audio right now.")
		return nil
	}
	if err != nil {
		return err
	}
	bot.send(m.ChannelID, "Stopped audio playback.")
	return nil
}

func (bot *Bot) handleHelpCommand(m *dis.MessageCreate, _ []string) error {
	prefix := "!"
	if len(bot.opts.Prefixes) > 0 {
		prefix = bot.opts.Prefixes[0]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "`%sjoinbased` join your voice channel and listen for '%s'\n", prefix, bot.opts.VoiceKeyword)
	fmt.Fprintf(&sb, "`%sleavebased` leave the voice channel\n", prefix)
	fmt.Fprintf(&sb, "`%sstopplaying` stop the clip\n", prefix)
	fmt.Fprintf(&sb, "Say '%s' in chat and I'll say it back.", bot.opts.TextKeyword)

	bot.send(m.ChannelID, sb.String())
	return nil
}
