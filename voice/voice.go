// Package voice tracks the bot's voice presence, one session per guild.
//
// The Registry is transport-agnostic: the Discord side provides a Gateway
// that opens connections and a Connection per joined channel. All operations
// on the same guild are serialized; different guilds never wait on each other.
package voice

import (
	"errors"
	"fmt"
)

// Gateway opens voice connections and reports the ones the transport layer
// knows about, tracked by the registry or not.
type Gateway interface {
	Connect(guildID, channelID string) (Connection, error)
	VoiceConnection(guildID string) (Connection, bool)
}

// Connection is a live voice transport for a single guild.
type Connection interface {
	ChannelID() string
	Connected() bool
	Move(channelID string) error
	// Disconnect leaves the channel. A forced disconnect skips the
	// polite teardown and is used when the connection may already be gone.
	Disconnect(force bool) error
	Player() Player
}

// Player streams a local clip into a connection.
type Player interface {
	Play(path string) error
	Stop()
	Playing() bool
}

// ListenFunc starts consuming inbound audio for a new session and returns
// the function that stops it.
type ListenFunc func(s *Session) (stop func())

type JoinOutcome int

const (
	Joined JoinOutcome = iota + 1
	Moved
	AlreadyPresent
)

func (o JoinOutcome) String() string {
	switch o {
	case Joined:
		return "joined"
	case Moved:
		return "moved"
	case AlreadyPresent:
		return "already present"
	}
	return "unknown"
}

type LeaveOutcome int

const (
	Left LeaveOutcome = iota + 1
	// LeftUntracked means the registry had no session but the transport
	// still held a connection, which was closed anyway.
	LeftUntracked
)

var (
	ErrNotConnected   = errors.New("voice: could not connect")
	ErrMoveFailed     = errors.New("voice: could not move")
	ErrNotPresent     = errors.New("voice: not in a voice channel")
	ErrNothingPlaying = errors.New("voice: nothing playing")
	ErrStaleSession   = errors.New("voice: session has ended")
)

// MoveError is returned by Join when an existing session could not be
// moved. The session has already been torn down when it is returned.
type MoveError struct {
	GuildID   string
	ChannelID string
	Err       error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move to channel %s: %v", e.ChannelID, e.Err)
}

func (e *MoveError) Unwrap() []error {
	return []error{ErrMoveFailed, e.Err}
}
