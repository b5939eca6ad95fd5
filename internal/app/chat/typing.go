package chat

import (
	"sync"
	"time"

	"roomcast/internal/app/user"
)

// DefaultTypingTimeout ends a typing episode when no further typing signal arrives.
const DefaultTypingTimeout = 3 * time.Second

// TypingEpisode identifies one continuous typing burst of a user in a room.
type TypingEpisode struct {
	RoomID string
	User   user.User

	// Conn is the connection that sent the latest typing signal.
	Conn ConnID
}

type typingKey struct {
	roomID string
	userID string
}

type typingEntry struct {
	episode TypingEpisode
	timer   *time.Timer
	gen     uint64
}

// Typing tracks open typing episodes keyed by (room, user). Each episode ends exactly
// once: by Stop, by its timer expiring, or by Close.
type Typing struct {
	// timeout is the idle period after which an episode expires.
	timeout time.Duration

	// onExpire receives episodes ended by their timer. Called without the lock held.
	onExpire func(TypingEpisode)

	// entries holds the open episodes.
	entries map[typingKey]*typingEntry

	mu sync.Mutex
}

// NewTyping returns a tracker that calls onExpire for every episode that times out.
func NewTyping(timeout time.Duration, onExpire func(TypingEpisode)) *Typing {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}

	return &Typing{
		timeout:  timeout,
		onExpire: onExpire,
		entries:  make(map[typingKey]*typingEntry),
	}
}

// Start records a typing signal. It reports true when the signal opens a new episode
// and false when it only extends an open one.
func (t *Typing) Start(ep TypingEpisode) bool {
	key := typingKey{roomID: ep.RoomID, userID: ep.User.ID}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, open := t.entries[key]
	if open {
		entry.timer.Stop()
		entry.episode.Conn = ep.Conn
	} else {
		entry = &typingEntry{episode: ep}
		t.entries[key] = entry
	}

	entry.gen++
	gen := entry.gen
	entry.timer = time.AfterFunc(t.timeout, func() {
		t.expire(key, entry, gen)
	})

	return !open
}

// Stop ends the episode of userID in roomID. It reports false when none was open.
func (t *Typing) Stop(roomID, userID string) (TypingEpisode, bool) {
	key := typingKey{roomID: roomID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return TypingEpisode{}, false
	}

	entry.timer.Stop()
	delete(t.entries, key)

	return entry.episode, true
}

// Active reports whether userID has an open episode in roomID.
func (t *Typing) Active(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[typingKey{roomID: roomID, userID: userID}]
	return ok
}

// Close cancels every timer and drops all episodes without notifications.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, key)
	}
}

// expire ends the episode if the firing timer still belongs to its latest generation.
func (t *Typing) expire(key typingKey, entry *typingEntry, gen uint64) {
	t.mu.Lock()
	current, ok := t.entries[key]
	if !ok || current != entry || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	ep := entry.episode
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(ep)
	}
}
