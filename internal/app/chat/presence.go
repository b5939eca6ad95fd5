/*
Package chat is the real-time core of the server: who is connected (Presence), which
rooms exist and who occupies them (Directory), how events reach sockets (Router), typing
episodes (Typing), and the per-connection state machine that ties them together (Gateway).

This file defines the Presence registry, the single owner of every live connection's
identity and current room.
*/
package chat

import (
	"slices"
	"sync"

	"roomcast/internal/app/user"
	"roomcast/internal/pkg/errs"
)

// ConnID identifies one live socket connection for its whole lifetime.
type ConnID string

// PresenceEntry is the registry record of a live connection.
type PresenceEntry struct {
	// Conn is the connection this entry belongs to.
	Conn ConnID

	// User is the authenticated identity behind the connection.
	User user.User

	// RoomID is the room the connection occupies, empty when in none.
	RoomID string

	// seq preserves registration order for occupant listings.
	seq uint64
}

// Presence tracks at most one entry per live connection.
type Presence struct {
	mu      sync.RWMutex
	entries map[ConnID]*PresenceEntry
	nextSeq uint64
}

// NewPresence returns an empty registry.
func NewPresence() *Presence {
	return &Presence{
		entries: make(map[ConnID]*PresenceEntry),
	}
}

// Register creates the entry for conn with no current room.
func (p *Presence) Register(conn ConnID, u user.User) (PresenceEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[conn]; ok {
		return PresenceEntry{}, errs.NewError(errs.ErrDuplicateConnection)
	}

	p.nextSeq++
	entry := &PresenceEntry{Conn: conn, User: u, seq: p.nextSeq}
	p.entries[conn] = entry

	return *entry, nil
}

// SetRoom records roomID as the current room of conn. An empty roomID clears it.
func (p *Presence) SetRoom(conn ConnID, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[conn]
	if !ok {
		return errs.NewError(errs.ErrUnknownConnection)
	}

	entry.RoomID = roomID
	return nil
}

// Rename replaces the display name on the entry of conn and returns the updated user.
func (p *Presence) Rename(conn ConnID, name string) (user.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[conn]
	if !ok {
		return user.User{}, errs.NewError(errs.ErrUnknownConnection)
	}

	entry.User.Name = name
	return entry.User, nil
}

// Unregister removes and returns the entry of conn. A second call for the same
// connection returns ErrUnknownConnection and changes nothing.
func (p *Presence) Unregister(conn ConnID) (PresenceEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[conn]
	if !ok {
		return PresenceEntry{}, errs.NewError(errs.ErrUnknownConnection)
	}

	delete(p.entries, conn)
	return *entry, nil
}

// Get returns a copy of the entry of conn.
func (p *Presence) Get(conn ConnID) (PresenceEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[conn]
	if !ok {
		return PresenceEntry{}, errs.NewError(errs.ErrUnknownConnection)
	}

	return *entry, nil
}

// ListByRoom returns the users occupying roomID in registration order. A user with
// several connections in the room appears once per connection.
func (p *Presence) ListByRoom(roomID string) []user.User {
	p.mu.RLock()
	matched := make([]PresenceEntry, 0)
	for _, entry := range p.entries {
		if roomID != "" && entry.RoomID == roomID {
			matched = append(matched, *entry)
		}
	}
	p.mu.RUnlock()

	return usersInOrder(matched)
}

// Online returns every distinct connected user in registration order of their first connection.
func (p *Presence) Online() []user.User {
	p.mu.RLock()
	all := make([]PresenceEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		all = append(all, *entry)
	}
	p.mu.RUnlock()

	seen := make(map[string]struct{})
	result := make([]user.User, 0, len(all))
	for _, u := range usersInOrder(all) {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		result = append(result, u)
	}

	return result
}

// ConnectionsOf counts the live connections held by userID.
func (p *Presence) ConnectionsOf(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, entry := range p.entries {
		if entry.User.ID == userID {
			n++
		}
	}
	return n
}

// Len returns the number of live connections.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.entries)
}

// usersInOrder sorts entry copies by registration and returns their users.
func usersInOrder(entries []PresenceEntry) []user.User {
	slices.SortFunc(entries, func(a, b PresenceEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	users := make([]user.User, len(entries))
	for i, entry := range entries {
		users[i] = entry.User
	}
	return users
}
