package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/protocol"
)

// DisconnectFunc runs after a client is unregistered, with the client
// already removed from the registry. The subscription manager and task
// router hook in here to unwind the client's state.
type DisconnectFunc func(ctx context.Context, clientID uuid.UUID)

// ClientManager is the registry of connected WebSocket clients. It owns
// message delivery; who receives what is decided by the subscription
// manager and the processor.
type ClientManager struct {
	cfg config.WSConfig
	log *slog.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client

	onDisconnect []DisconnectFunc
}

func NewClientManager(cfg config.WSConfig) *ClientManager {
	return &ClientManager{
		cfg:     cfg,
		log:     slog.With("component", "client_manager"),
		clients: make(map[uuid.UUID]*Client),
	}
}

// OnDisconnect registers a cleanup hook. Register during startup wiring,
// before the server accepts connections.
func (m *ClientManager) OnDisconnect(fn DisconnectFunc) {
	m.onDisconnect = append(m.onDisconnect, fn)
}

// Register admits an upgraded connection and starts its write pump.
func (m *ClientManager) Register(ctx context.Context, conn *websocket.Conn) *Client {
	c := newClient(conn, m.cfg.SendBuffer)

	m.mu.Lock()
	m.clients[c.ID] = c
	total := len(m.clients)
	m.mu.Unlock()

	go c.writePump(ctx, m.cfg)

	metrics.ClientsConnected.Set(float64(total))
	m.log.Info("Client connected", "client_id", c.ID, "total", total)
	return c
}

// Unregister removes a client, closes its socket, and runs the disconnect
// hooks. Safe to call more than once.
func (m *ClientManager) Unregister(ctx context.Context, clientID uuid.UUID) {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	if ok {
		delete(m.clients, clientID)
	}
	total := len(m.clients)
	m.mu.Unlock()

	if !ok {
		return
	}

	c.close(websocket.StatusNormalClosure, "")
	metrics.ClientsConnected.Set(float64(total))
	m.log.Info("Client disconnected", "client_id", clientID, "total", total)

	for _, fn := range m.onDisconnect {
		fn(ctx, clientID)
	}
}

// Send delivers one message to one client. Returns false when the client is
// gone or its queue rejected the frame. Crossing the consecutive-drop
// threshold disconnects the client instead of back-pressuring the caller.
func (m *ClientManager) Send(ctx context.Context, clientID uuid.UUID, msg *protocol.Message) bool {
	m.mu.RLock()
	c, ok := m.clients[clientID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	frame, err := msg.Encode()
	if err != nil {
		m.log.Error("Dropping unencodable message", "type", msg.Type, "error", err)
		return false
	}
	return m.deliver(ctx, c, frame)
}

// SendTo delivers one pre-built message to a set of clients, encoding it
// once. Used by the processor for realtime fan-out.
func (m *ClientManager) SendTo(ctx context.Context, clientIDs []uuid.UUID, msg *protocol.Message) {
	if len(clientIDs) == 0 {
		return
	}
	frame, err := msg.Encode()
	if err != nil {
		m.log.Error("Dropping unencodable broadcast", "type", msg.Type, "error", err)
		return
	}

	// Snapshot under the read lock, deliver outside it: enqueue is
	// non-blocking but disconnects take the write lock.
	m.mu.RLock()
	targets := make([]*Client, 0, len(clientIDs))
	for _, id := range clientIDs {
		if c, ok := m.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range targets {
		m.deliver(ctx, c, frame)
	}
}

func (m *ClientManager) deliver(ctx context.Context, c *Client, frame []byte) bool {
	if c.enqueue(frame) {
		return true
	}

	metrics.ClientMessagesDropped.Inc()
	if c.noteDrop(m.cfg.DropThreshold) {
		m.log.Warn("Disconnecting slow client", "client_id", c.ID)
		metrics.ClientsDisconnectedSlow.Inc()
		c.close(websocket.StatusPolicyViolation, "slow consumer")
		m.Unregister(ctx, c.ID)
	}
	return false
}

// Count returns the number of connected clients.
func (m *ClientManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CloseAll disconnects every client, for shutdown.
func (m *ClientManager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[uuid.UUID]*Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
	metrics.ClientsConnected.Set(0)
}
