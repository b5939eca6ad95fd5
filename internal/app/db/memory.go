package db

import (
	"context"
	"sync"

	"roomcast/internal/app/chat"
	"roomcast/internal/pkg/errs"
)

// DefaultMemoryRetention is how many messages MemoryStore keeps per room.
const DefaultMemoryRetention = 500

// MemoryStore implements chat.Store in process memory. Contents are lost on restart.
type MemoryStore struct {
	rooms     map[string]chat.Room
	roomOrder []string
	messages  map[string][]chat.Message

	// retention caps the messages kept per room; older ones are dropped.
	retention int

	mu sync.RWMutex
}

// NewMemoryStore returns an empty store keeping up to retention messages per room.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultMemoryRetention
	}

	return &MemoryStore{
		rooms:     make(map[string]chat.Room),
		messages:  make(map[string][]chat.Message),
		retention: retention,
	}
}

// PersistMessage appends msg to its room's history.
func (m *MemoryStore) PersistMessage(_ context.Context, msg chat.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[msg.RoomID]; !ok {
		return "", errs.NewError(errs.ErrRoomNotFound)
	}

	history := append(m.messages[msg.RoomID], msg)
	if over := len(history) - m.retention; over > 0 {
		history = append([]chat.Message(nil), history[over:]...)
	}
	m.messages[msg.RoomID] = history

	return msg.ID, nil
}

// LoadRecentMessages returns up to limit messages of roomID, oldest first.
func (m *MemoryStore) LoadRecentMessages(_ context.Context, roomID string, limit int) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.messages[roomID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := make([]chat.Message, len(history))
	copy(out, history)
	return out, nil
}

// LoadRoomMetadata returns the stored room, or errs.ErrRoomNotFound.
func (m *MemoryStore) LoadRoomMetadata(_ context.Context, roomID string) (chat.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return chat.Room{}, errs.NewError(errs.ErrRoomNotFound)
	}

	return room, nil
}

// ListRooms returns stored rooms in the order they were saved.
func (m *MemoryStore) ListRooms(_ context.Context) ([]chat.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]chat.Room, 0, len(m.roomOrder))
	for _, id := range m.roomOrder {
		rooms = append(rooms, m.rooms[id])
	}

	return rooms, nil
}

// SaveRoom stores room. A duplicate id yields errs.ErrRoomCodeExists.
func (m *MemoryStore) SaveRoom(_ context.Context, room chat.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room.ID]; ok {
		return errs.NewError(errs.ErrRoomCodeExists)
	}

	m.rooms[room.ID] = room
	m.roomOrder = append(m.roomOrder, room.ID)
	return nil
}
