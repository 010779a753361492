package voice

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the bot's occupancy of one voice channel in one guild.
// It owns its connection exclusively.
type Session struct {
	ID       string
	GuildID  string
	JoinedAt time.Time

	conn Connection

	mu            sync.Mutex
	channelID     string
	textChannelID string
	stop          func()
}

func newSession(guildID, channelID, textChannelID string, conn Connection) *Session {
	return &Session{
		ID:            uuid.NewString(),
		GuildID:       guildID,
		JoinedAt:      time.Now(),
		conn:          conn,
		channelID:     channelID,
		textChannelID: textChannelID,
	}
}

func (s *Session) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// TextChannelID is where errors for this session are reported: the channel
// the most recent join command came from.
func (s *Session) TextChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textChannelID
}

// Connected asks the connection every time; the answer is never cached.
func (s *Session) Connected() bool {
	return s.conn.Connected()
}

func (s *Session) Connection() Connection {
	return s.conn
}

func (s *Session) Player() Player {
	return s.conn.Player()
}

func (s *Session) setChannel(channelID, textChannelID string) {
	s.mu.Lock()
	s.channelID = channelID
	s.textChannelID = textChannelID
	s.mu.Unlock()
}

func (s *Session) setStop(stop func()) {
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

// stopListening is safe to call more than once.
func (s *Session) stopListening() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}
