package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomcast/internal/pkg/logx"
)

// Manager owns the chat core for the lifetime of the server: it builds the registries,
// hydrates rooms from the Store at start, and closes every connection at shutdown.
type Manager struct {
	presence  *Presence
	directory *Directory
	router    *Router
	gateway   *Gateway

	// store is the optional persistence collaborator.
	store Store

	// shutdownOnce guards Shutdown against repeated calls.
	shutdownOnce sync.Once

	// structured logger with Manager context.
	logger zerolog.Logger
}

// NewManager constructs the core. Call Start before serving connections.
func NewManager(opts GatewayOptions) *Manager {
	presence := NewPresence()
	directory := NewDirectory()
	router := NewRouter(directory)

	return &Manager{
		presence:  presence,
		directory: directory,
		router:    router,
		gateway:   NewGateway(presence, directory, router, opts),
		store:     opts.Store,
		logger:    logx.Component("Manager"),
	}
}

// Start loads persisted room metadata into the directory.
func (m *Manager) Start(ctx context.Context) error {
	if m.store == nil {
		m.logger.Info().Msg("No store configured, rooms live in memory only")
		return nil
	}

	rooms, err := m.store.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	m.directory.Restore(rooms...)
	m.logger.Info().Int("rooms", len(rooms)).Msg("Rooms restored from store")

	return nil
}

// Gateway returns the session gateway.
func (m *Manager) Gateway() *Gateway {
	return m.gateway
}

// ServeWS runs one upgraded connection until it closes.
func (m *Manager) ServeWS(ctx context.Context, conn *websocket.Conn, token string) {
	NewClient(conn, m.gateway).Serve(ctx, token)
}

// Stats reports current connection and room counts.
func (m *Manager) Stats() (connections, rooms int) {
	return m.presence.Len(), m.directory.Len()
}

// Shutdown cancels typing timers and closes every connection with a going-away frame.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.logger.Info().Msg("Shutting down Manager...")

		m.gateway.Close()
		m.router.CloseAll(websocket.CloseGoingAway, "Server shutting down")

		m.logger.Info().Msg("Manager shutdown complete.")
	})
}
