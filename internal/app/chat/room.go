package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomcast/internal/app/user"
	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/randx"
)

const (
	// MaxRoomNameLength is the maximum room name length in runes.
	MaxRoomNameLength = 64

	// MaxRoomDescriptionLength is the maximum room description length in runes.
	MaxRoomDescriptionLength = 500
)

// Room is the persisted metadata of a chat room.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"isPrivate"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomInfo is Room metadata together with its current occupancy.
type RoomInfo struct {
	Room
	MemberCount int `json:"memberCount"`
}

// roomState couples metadata with the live membership set.
type roomState struct {
	meta    Room
	members map[ConnID]struct{}
}

// Directory owns every known room and its membership set. Rooms are never removed,
// even when empty.
type Directory struct {
	// rooms maps room id to its state.
	rooms map[string]*roomState

	// order keeps room ids in creation order for listings.
	order []string

	// now is the clock used for CreatedAt.
	now func() time.Time

	// mu protects rooms and order.
	mu sync.RWMutex
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		rooms: make(map[string]*roomState),
		now:   time.Now,
	}
}

// Create registers a new room with a fresh unique id and no members.
func (d *Directory) Create(name, description string, isPrivate bool, creator user.User) Room {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.newIDLocked()

	meta := Room{
		ID:          id,
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		IsPrivate:   isPrivate,
		CreatedBy:   creator.ID,
		CreatedAt:   d.now().UTC(),
	}

	d.rooms[id] = &roomState{meta: meta, members: make(map[ConnID]struct{})}
	d.order = append(d.order, id)

	return meta
}

// newIDLocked draws room ids until one is unused.
func (d *Directory) newIDLocked() string {
	for {
		id, err := randx.RoomID()
		if err != nil {
			id = uuid.NewString()
		}

		if _, taken := d.rooms[id]; !taken {
			return id
		}
	}
}

// Restore adds rooms loaded from storage. Rooms already known keep their membership.
func (d *Directory) Restore(rooms ...Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, meta := range rooms {
		if meta.ID == "" {
			continue
		}

		if existing, ok := d.rooms[meta.ID]; ok {
			existing.meta = meta
			continue
		}

		d.rooms[meta.ID] = &roomState{meta: meta, members: make(map[ConnID]struct{})}
		d.order = append(d.order, meta.ID)
	}
}

// Get returns the metadata of roomID.
func (d *Directory) Get(roomID string) (Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, ok := d.rooms[roomID]
	if !ok {
		return Room{}, errs.NewError(errs.ErrRoomNotFound)
	}

	return state.meta, nil
}

// FindByName returns the oldest room whose name matches name, ignoring case.
func (d *Directory) FindByName(name string) (Room, bool) {
	name = strings.TrimSpace(name)

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, id := range d.order {
		if meta := d.rooms[id].meta; strings.EqualFold(meta.Name, name) {
			return meta, true
		}
	}

	return Room{}, false
}

// List returns all rooms in creation order with their member counts.
func (d *Directory) List() []RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(d.order))
	for _, id := range d.order {
		state := d.rooms[id]
		infos = append(infos, RoomInfo{Room: state.meta, MemberCount: len(state.members)})
	}

	return infos
}

// Join adds conn to the membership of roomID. Joining twice is a no-op.
func (d *Directory) Join(roomID string, conn ConnID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.rooms[roomID]
	if !ok {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	state.members[conn] = struct{}{}
	return nil
}

// Leave removes conn from the membership of roomID. Unknown rooms and non-members are no-ops.
func (d *Directory) Leave(roomID string, conn ConnID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state, ok := d.rooms[roomID]; ok {
		delete(state.members, conn)
	}
}

// Members returns a snapshot of the connections in roomID.
func (d *Directory) Members(roomID string) []ConnID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, ok := d.rooms[roomID]
	if !ok {
		return nil
	}

	members := make([]ConnID, 0, len(state.members))
	for conn := range state.members {
		members = append(members, conn)
	}

	return members
}

// IsMember reports whether conn is in the membership of roomID.
func (d *Directory) IsMember(roomID string, conn ConnID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, ok := d.rooms[roomID]
	if !ok {
		return false
	}

	_, member := state.members[conn]
	return member
}

// Len returns the number of known rooms.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.rooms)
}
