package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
)

// Sender is the outbound half of a connection's transport.
type Sender interface {
	// Send queues ev for delivery. It must not block on network I/O.
	Send(ev Event) error

	// Close ends the transport with the given close code and reason.
	Close(code int, reason string)
}

// Router delivers events to connections. Room fan-out resolves membership from the
// Directory at call time and skips peers whose transport refuses the event.
type Router struct {
	// conns maps live connections to their transport.
	conns map[ConnID]Sender

	// directory resolves room membership for SendToRoom.
	directory *Directory

	// mu protects conns.
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewRouter returns a router fanning out over the membership held by directory.
func NewRouter(directory *Directory) *Router {
	return &Router{
		conns:     make(map[ConnID]Sender),
		directory: directory,
		logger:    logx.Component("Router"),
	}
}

// Attach makes conn reachable through s.
func (r *Router) Attach(conn ConnID, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn] = s
}

// Detach makes conn unreachable and returns its transport, if any.
func (r *Router) Detach(conn ConnID) (Sender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.conns[conn]
	delete(r.conns, conn)
	return s, ok
}

// SendToConnection delivers ev to exactly one connection. It returns
// ErrConnectionNotFound when the transport is gone or refuses the event.
func (r *Router) SendToConnection(conn ConnID, ev Event) error {
	r.mu.RLock()
	s, ok := r.conns[conn]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug().
			Str("conn_id", string(conn)).
			Str("event", string(ev.Kind)).
			Msg("Dropping event for detached connection")
		return errs.NewError(errs.ErrConnectionNotFound)
	}

	if err := s.Send(ev); err != nil {
		r.logger.Warn().Err(err).
			Str("conn_id", string(conn)).
			Str("event", string(ev.Kind)).
			Msg("Connection refused event")
		return errs.NewError(errs.ErrConnectionNotFound)
	}

	return nil
}

// SendToRoom delivers ev to every current member of roomID except excluding, which may
// be empty. It returns how many members accepted the event.
func (r *Router) SendToRoom(roomID string, ev Event, excluding ConnID) int {
	delivered := 0

	for _, conn := range r.directory.Members(roomID) {
		if conn == excluding {
			continue
		}
		if r.SendToConnection(conn, ev) == nil {
			delivered++
		}
	}

	return delivered
}

// BroadcastAll delivers ev to every attached connection except excluding, which may be
// empty. It returns how many connections accepted the event.
func (r *Router) BroadcastAll(ev Event, excluding ConnID) int {
	r.mu.RLock()
	targets := make([]ConnID, 0, len(r.conns))
	for conn := range r.conns {
		if conn != excluding {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if r.SendToConnection(conn, ev) == nil {
			delivered++
		}
	}

	return delivered
}

// CloseAll detaches and closes every connection.
func (r *Router) CloseAll(code int, reason string) {
	r.mu.Lock()
	senders := make([]Sender, 0, len(r.conns))
	for conn, s := range r.conns {
		senders = append(senders, s)
		delete(r.conns, conn)
	}
	r.mu.Unlock()

	for _, s := range senders {
		s.Close(code, reason)
	}

	r.logger.Info().Int("closed", len(senders)).Msg("Closed all connections")
}

// Len returns the number of attached connections.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
