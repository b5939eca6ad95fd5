package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roomcast/internal/app/user"
)

// recordingSender captures delivered events in memory.
type recordingSender struct {
	mu        sync.Mutex
	events    []Event
	closed    bool
	closeCode int
}

func (r *recordingSender) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("sender closed")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSender) Close(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.closeCode = code
}

func (r *recordingSender) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (r *recordingSender) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			matched = append(matched, ev)
		}
	}
	return matched
}

func (r *recordingSender) last(kind EventKind) (Event, bool) {
	matched := r.ofKind(kind)
	if len(matched) == 0 {
		return Event{}, false
	}
	return matched[len(matched)-1], true
}

func (r *recordingSender) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}

// staticAuth accepts tokens from a fixed table.
type staticAuth map[string]user.User

func (a staticAuth) Authenticate(_ context.Context, token string) (user.User, error) {
	u, ok := a[token]
	if !ok {
		return user.User{}, errors.New("unknown token")
	}
	return u, nil
}

var (
	alice = user.User{ID: "u-alice", Name: "Alice", UserType: user.TypeRegistered}
	bob   = user.User{ID: "u-bob", Name: "Bob", UserType: user.TypeRegistered}
	carol = user.User{ID: "u-carol", Name: "Carol", UserType: user.TypeRegistered}
)

func testAuth() staticAuth {
	return staticAuth{"alice": alice, "bob": bob, "carol": carol}
}

// mockStore is a testify mock of Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) PersistMessage(ctx context.Context, msg Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *mockStore) LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	args := m.Called(ctx, roomID, limit)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *mockStore) LoadRoomMetadata(ctx context.Context, roomID string) (Room, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(Room), args.Error(1)
}

func (m *mockStore) ListRooms(ctx context.Context) ([]Room, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Room), args.Error(1)
}

func (m *mockStore) SaveRoom(ctx context.Context, room Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

// fixture wires a Gateway over fresh registries.
type fixture struct {
	presence  *Presence
	directory *Directory
	router    *Router
	gateway   *Gateway
}

func newFixture(t *testing.T, opts GatewayOptions) *fixture {
	t.Helper()

	if opts.Auth == nil {
		opts.Auth = testAuth()
	}

	presence := NewPresence()
	directory := NewDirectory()
	router := NewRouter(directory)
	gateway := NewGateway(presence, directory, router, opts)
	t.Cleanup(gateway.Close)

	return &fixture{presence: presence, directory: directory, router: router, gateway: gateway}
}

func (f *fixture) open(t *testing.T, token string) (*Session, *recordingSender) {
	t.Helper()

	sender := &recordingSender{}
	s, err := f.gateway.Open(context.Background(), token, sender)
	require.NoError(t, err)
	return s, sender
}

func (f *fixture) room(name string) Room {
	return f.directory.Create(name, "", false, alice)
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func userIDs(users []user.User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}
