package voice

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Registry is the single source of truth for which voice channel, if any,
// the bot occupies in each guild.
type Registry struct {
	gateway Gateway
	listen  ListenFunc
	log     *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	guilds   map[string]*sync.Mutex
}

func NewRegistry(
	gateway Gateway,
	listen ListenFunc,
	logger *log.Logger,
) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		gateway:  gateway,
		listen:   listen,
		log:      logger,
		sessions: make(map[string]*Session),
		guilds:   make(map[string]*sync.Mutex),
	}
}

// lockGuild serializes every operation on guildID. The returned function
// releases the lock.
func (r *Registry) lockGuild(guildID string) func() {
	r.mu.Lock()
	l, ok := r.guilds[guildID]
	if !ok {
		l = &sync.Mutex{}
		r.guilds[guildID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (r *Registry) lookup(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID]
}

func (r *Registry) store(s *Session) {
	r.mu.Lock()
	r.sessions[s.GuildID] = s
	r.mu.Unlock()
}

// remove deletes the entry only if it still belongs to s.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if r.sessions[s.GuildID] == s {
		delete(r.sessions, s.GuildID)
	}
	r.mu.Unlock()
}

// Session returns the tracked session for a guild, if any.
func (r *Registry) Session(guildID string) (*Session, bool) {
	s := r.lookup(guildID)
	return s, s != nil
}

// Len is the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// live returns the tracked session if its connection is still up. A stale
// entry is torn down and removed on the way. Caller holds the guild lock.
func (r *Registry) live(guildID string) *Session {
	s := r.lookup(guildID)
	if s == nil {
		return nil
	}
	if s.Connected() {
		return s
	}

	r.log.Warn("purging stale session", "guild", guildID, "channel", s.ChannelID())
	r.teardown(s, true)
	return nil
}

// teardown stops listening, disconnects and forgets s. Disconnect errors
// are logged; the entry is removed regardless.
func (r *Registry) teardown(s *Session, force bool) error {
	defer r.remove(s)

	s.stopListening()
	if err := s.conn.Disconnect(force); err != nil {
		r.log.Warn(
			"disconnect failed",
			"guild", s.GuildID,
			"channel", s.ChannelID(),
			"force", force,
			"error", err,
		)
		return err
	}
	return nil
}

// Join puts the bot into channelID, creating, reusing or moving the
// guild's session. textChannelID is where later errors for the session
// are reported.
func (r *Registry) Join(
	guildID, channelID, textChannelID string,
) (*Session, JoinOutcome, error) {
	unlock := r.lockGuild(guildID)
	defer unlock()

	if s := r.live(guildID); s != nil {
		if s.ChannelID() == channelID {
			return s, AlreadyPresent, nil
		}

		if err := s.conn.Move(channelID); err != nil {
			r.log.Error(
				"move failed",
				"guild", guildID,
				"from", s.ChannelID(),
				"to", channelID,
				"error", err,
			)
			r.teardown(s, true)
			return nil, 0, &MoveError{
				GuildID:   guildID,
				ChannelID: channelID,
				Err:       err,
			}
		}

		s.setChannel(channelID, textChannelID)
		r.log.Info("moved", "guild", guildID, "channel", channelID)
		return s, Moved, nil
	}

	conn, err := r.gateway.Connect(guildID, channelID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	s := newSession(guildID, channelID, textChannelID, conn)
	r.store(s)
	if r.listen != nil {
		s.setStop(r.listen(s))
	}

	r.log.Info(
		"joined",
		"guild", guildID,
		"channel", channelID,
		"session", s.ID,
	)
	return s, Joined, nil
}

// Leave disconnects the bot from the guild's voice channel. When the
// registry has lost track of a connection the transport still holds, that
// connection is closed as a fallback.
func (r *Registry) Leave(guildID string) (LeaveOutcome, error) {
	unlock := r.lockGuild(guildID)
	defer unlock()

	if s := r.live(guildID); s != nil {
		if err := r.teardown(s, false); err != nil {
			return 0, fmt.Errorf("leave: %w", err)
		}
		r.log.Info("left", "guild", guildID)
		return Left, nil
	}

	if conn, ok := r.gateway.VoiceConnection(guildID); ok {
		r.log.Warn(
			"leaving untracked connection",
			"guild", guildID,
			"channel", conn.ChannelID(),
		)
		if err := conn.Disconnect(false); err != nil {
			return 0, fmt.Errorf("leave untracked: %w", err)
		}
		return LeftUntracked, nil
	}

	return 0, ErrNotPresent
}

// StopPlayback stops the clip playing in the guild, if any.
func (r *Registry) StopPlayback(guildID string) error {
	unlock := r.lockGuild(guildID)
	defer unlock()

	var conn Connection
	if s := r.live(guildID); s != nil {
		conn = s.conn
	} else if c, ok := r.gateway.VoiceConnection(guildID); ok {
		conn = c
	}

	if conn == nil {
		return ErrNothingPlaying
	}

	player := conn.Player()
	if player == nil || !player.Playing() {
		return ErrNothingPlaying
	}

	player.Stop()
	return nil
}

// HandleExternalDisconnect cleans up after the transport reported that the
// bot left a channel without Leave being called: kicked, channel deleted,
// network drop. The entry is always gone afterwards.
func (r *Registry) HandleExternalDisconnect(guildID string) {
	r.HandleExternalDisconnectIf(guildID, nil)
}

// HandleExternalDisconnectIf is HandleExternalDisconnect for events that may
// arrive late. gone runs under the guild lock; when it reports that the bot
// is in fact connected again, the event is stale and the session is kept.
// A nil gone always cleans up.
func (r *Registry) HandleExternalDisconnectIf(guildID string, gone func(s *Session) bool) {
	unlock := r.lockGuild(guildID)
	defer unlock()

	s := r.lookup(guildID)
	if s == nil {
		return
	}
	if gone != nil && !gone(s) {
		r.log.Debug(
			"ignoring stale disconnect",
			"guild", guildID,
			"channel", s.ChannelID(),
			"session", s.ID,
		)
		return
	}

	r.log.Info(
		"disconnected externally",
		"guild", guildID,
		"channel", s.ChannelID(),
		"session", s.ID,
	)

	defer r.remove(s)
	s.stopListening()

	if !s.Connected() {
		return
	}
	if err := s.conn.Disconnect(true); err != nil {
		r.log.Warn(
			"cleanup after external disconnect",
			"guild", guildID,
			"error", err,
		)
	}
}

// SyncChannel records that the bot was moved to channelID by someone else.
// It reports whether the tracked channel changed.
func (r *Registry) SyncChannel(guildID, channelID string) bool {
	if channelID == "" {
		return false
	}

	unlock := r.lockGuild(guildID)
	defer unlock()

	s := r.live(guildID)
	if s == nil || s.ChannelID() == channelID {
		return false
	}

	r.log.Info(
		"moved externally",
		"guild", guildID,
		"from", s.ChannelID(),
		"to", channelID,
	)
	s.setChannel(channelID, s.TextChannelID())
	return true
}

// Play starts path in the guild only if sessionID is still the guild's
// live session. Work that finishes after its session ended is dropped.
func (r *Registry) Play(guildID, sessionID, path string) error {
	unlock := r.lockGuild(guildID)
	defer unlock()

	s := r.live(guildID)
	if s == nil {
		return ErrNotPresent
	}
	if s.ID != sessionID {
		return ErrStaleSession
	}

	player := s.conn.Player()
	if player == nil {
		return fmt.Errorf("session %s has no player", s.ID)
	}
	return player.Play(path)
}

// Close disconnects every tracked session. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	guilds := make([]string, 0, len(r.sessions))
	for guildID := range r.sessions {
		guilds = append(guilds, guildID)
	}
	r.mu.Unlock()

	for _, guildID := range guilds {
		unlock := r.lockGuild(guildID)
		if s := r.lookup(guildID); s != nil {
			r.teardown(s, false)
		}
		unlock()
	}
}
