// Package websocket is the server-side realtime layer: the Hub owns
// this process's live connections, the Gateway bridges them to the
// cross-process event bus, and the PresenceStore keeps the shared
// online counters.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/harborapp/harbor/internal/logger"
	"github.com/harborapp/harbor/internal/metrics"
	"go.uber.org/zap"
)

// Hub is the per-process connection registry. A Connection is owned
// exclusively by the Hub that accepted it and is never shared across
// processes; cross-process delivery always goes through the bus.
type Hub struct {
	// Registered clients by user ID for targeted delivery
	clients map[string]map[*Client]struct{}

	// All registered clients, for broadcast
	allClients map[*Client]struct{}

	mu sync.RWMutex

	closed bool

	metrics *HubMetrics
}

// HubMetrics tracks connection statistics
type HubMetrics struct {
	TotalConnections   atomic.Int64
	ActiveConnections  atomic.Int64
	MessagesSent       atomic.Int64
	MessagesReceived   atomic.Int64
	ConnectionsDropped atomic.Int64
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		allClients: make(map[*Client]struct{}),
		metrics:    &HubMetrics{},
	}
}

// Register adds a registered client and returns the number of local
// connections for its user after the add.
func (h *Hub) Register(client *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0
	}

	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]struct{})
	}
	h.clients[client.UserID][client] = struct{}{}
	h.allClients[client] = struct{}{}

	h.metrics.TotalConnections.Add(1)
	h.metrics.ActiveConnections.Add(1)

	logger.Log.Info("Connection registered",
		logger.WithUserID(client.UserID),
		zap.String("connection_id", client.ConnectionID),
		zap.Int64("active", h.metrics.ActiveConnections.Load()))

	return len(h.clients[client.UserID])
}

// Unregister removes a client and returns the number of local
// connections remaining for its user. Safe to call more than once.
func (h *Hub) Unregister(client *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.allClients[client]; !ok {
		if conns, ok := h.clients[client.UserID]; ok {
			return len(conns)
		}
		return 0
	}

	delete(h.allClients, client)

	remaining := 0
	if conns, ok := h.clients[client.UserID]; ok {
		delete(conns, client)
		remaining = len(conns)
		if remaining == 0 {
			delete(h.clients, client.UserID)
		}
	}

	client.closeSend()
	h.metrics.ActiveConnections.Add(-1)

	logger.Log.Info("Connection unregistered",
		logger.WithUserID(client.UserID),
		zap.String("connection_id", client.ConnectionID),
		zap.Int64("active", h.metrics.ActiveConnections.Load()))

	return remaining
}

// SendToUser pushes a message to every local connection for userID and
// returns the number of deliveries. Zero connections is not an error.
func (h *Hub) SendToUser(userID string, message *Message) int {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Log.Error("Marshal unicast message", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[userID] {
		if h.push(client, data) {
			delivered++
		}
	}
	return delivered
}

// Broadcast pushes a message to every registered connection and
// returns the number of deliveries.
func (h *Hub) Broadcast(message *Message) int {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Log.Error("Marshal broadcast message", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.allClients {
		if h.push(client, data) {
			delivered++
		}
	}
	return delivered
}

// push enqueues data on the client's send buffer. A full buffer marks
// the connection dead; delivery is best-effort and closing never waits
// for in-flight pushes.
func (h *Hub) push(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		h.metrics.MessagesSent.Add(1)
		return true
	default:
		h.metrics.ConnectionsDropped.Add(1)
		if m := metrics.Get(); m != nil {
			m.ConnectionsDropped.Inc()
		}
		go client.Close()
		return false
	}
}

// IsUserOnline checks if a user has any connection on this process.
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// GetUserConnectionCount returns the local connection count for a user.
func (h *Hub) GetUserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// LocalUserIDs returns the users with at least one connection here.
func (h *Hub) LocalUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		users = append(users, userID)
	}
	return users
}

// GetMetrics returns a point-in-time snapshot of hub metrics
func (h *Hub) GetMetrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalConnections:   h.metrics.TotalConnections.Load(),
		ActiveConnections:  h.metrics.ActiveConnections.Load(),
		MessagesSent:       h.metrics.MessagesSent.Load(),
		MessagesReceived:   h.metrics.MessagesReceived.Load(),
		ConnectionsDropped: h.metrics.ConnectionsDropped.Load(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of hub metrics
type MetricsSnapshot struct {
	TotalConnections   int64 `json:"total_connections"`
	ActiveConnections  int64 `json:"active_connections"`
	MessagesSent       int64 `json:"messages_sent"`
	MessagesReceived   int64 `json:"messages_received"`
	ConnectionsDropped int64 `json:"connections_dropped"`
}

// String implements Stringer for MetricsSnapshot
func (m MetricsSnapshot) String() string {
	return fmt.Sprintf("connections=%d/%d messages=rx:%d/tx:%d dropped=%d",
		m.ActiveConnections, m.TotalConnections,
		m.MessagesReceived, m.MessagesSent,
		m.ConnectionsDropped)
}

// Shutdown notifies and closes every connection. New registrations are
// refused afterwards.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()

	h.closed = true

	shutdownMsg := NewMessage(MessageTypeSystem, SystemPayload{
		Event: "server_shutdown",
	})
	data, _ := json.Marshal(shutdownMsg)

	clients := make([]*Client, 0, len(h.allClients))
	for client := range h.allClients {
		select {
		case client.send <- data:
		default:
		}
		client.closeSend()
		clients = append(clients, client)
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.allClients = make(map[*Client]struct{})
	h.metrics.ActiveConnections.Store(0)

	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, client := range clients {
			client.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("Hub shutdown complete", zap.Int("connections", len(clients)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown timeout: %w", ctx.Err())
	}
}
