package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/atriumhq/atrium/internal/observability"
)

// EventBroadcaster fans audit events out to connected admin clients on the
// live-tail websocket.
type EventBroadcaster struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster(logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		logger:  logger.With().Str("component", "event-broadcaster").Logger(),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Add registers a connected client.
func (b *EventBroadcaster) Add(conn *websocket.Conn) {
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()
}

// Remove unregisters a client and closes its connection.
func (b *EventBroadcaster) Remove(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	b.mu.Unlock()
	_ = conn.Close()
}

// ClientCount returns the number of connected clients.
func (b *EventBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends an audit event to every connected client. A client whose
// write fails is evicted.
func (b *EventBroadcaster) Broadcast(event observability.AuditEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for conn := range b.clients {
		if err := conn.WriteJSON(event); err != nil {
			b.logger.Debug().Err(err).Msg("Evicting stale event client")
			delete(b.clients, conn)
			_ = conn.Close()
		}
	}
}

// CloseAll disconnects every client. Called on shutdown.
func (b *EventBroadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for conn := range b.clients {
		_ = conn.Close()
		delete(b.clients, conn)
	}
}
