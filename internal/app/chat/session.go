package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"roomcast/internal/app/user"
	"roomcast/internal/pkg/logx"
)

// SessionState is the lifecycle stage of one connection.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateInRoom
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in_room"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is the Gateway's view of one connection. Transitions are driven only by the
// Gateway while it holds its transaction lock.
type Session struct {
	// ID is the connection id, also the presence and router key.
	ID ConnID

	state  SessionState
	user   user.User
	roomID string

	logger zerolog.Logger

	mu sync.RWMutex
}

func newSession(id ConnID) *Session {
	return &Session{
		ID:     id,
		state:  StateConnecting,
		logger: logx.Logger().With().Str("conn_id", string(id)).Logger(),
	}
}

// State returns the current lifecycle stage.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// User returns the identity bound at authentication, including later renames.
func (s *Session) User() user.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.user
}

// RoomID returns the occupied room, empty outside StateInRoom.
func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roomID
}

// Logger returns a logger carrying the connection and user ids.
func (s *Session) Logger() *zerolog.Logger {
	s.mu.RLock()
	l := s.logger
	s.mu.RUnlock()

	return &l
}

func (s *Session) authenticate(u user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = u
	s.state = StateAuthenticated
	s.logger = s.logger.With().Str("user_id", u.ID).Logger()
}

func (s *Session) rename(u user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = u
}

func (s *Session) enterRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return
	}
	s.roomID = roomID
	s.state = StateInRoom
}

func (s *Session) leaveRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return
	}
	s.roomID = ""
	s.state = StateAuthenticated
}

func (s *Session) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roomID = ""
	s.state = StateDisconnected
}
