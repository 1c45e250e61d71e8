// Package gateway is the client-facing half of the platform: it accepts
// WebSocket connections, tracks per-client subscriptions, turns requests
// into task rows, and fans notifications from the database back out as
// wire messages.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/metrics"
)

// Client is one connected WebSocket peer. The read loop lives in the HTTP
// handler; outbound traffic goes through the buffered send queue and the
// write pump, so a slow peer can never block a broadcast.
type Client struct {
	ID   uuid.UUID
	conn *websocket.Conn
	log  *slog.Logger

	send chan []byte
	done chan struct{}

	// consecutiveDrops counts sends rejected on a full queue since the
	// last successful enqueue. Crossing the threshold kills the client.
	dropsMu          sync.Mutex
	consecutiveDrops int

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, sendBuffer int) *Client {
	id := uuid.New()
	return &Client{
		ID:   id,
		conn: conn,
		log:  slog.With("component", "ws_client", "client_id", id),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue queues an encoded frame without blocking. Returns false when the
// queue is full or the client is closing.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		c.dropsMu.Lock()
		c.consecutiveDrops = 0
		c.dropsMu.Unlock()
		return true
	default:
		return false
	}
}

// noteDrop records a rejected send and reports whether the drop threshold
// was crossed.
func (c *Client) noteDrop(threshold int) bool {
	c.dropsMu.Lock()
	defer c.dropsMu.Unlock()
	c.consecutiveDrops++
	return threshold > 0 && c.consecutiveDrops >= threshold
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings. Runs as the sole writer goroutine for the connection.
func (c *Client) writePump(ctx context.Context, cfg config.WSConfig) {
	pingTicker := time.NewTicker(cfg.PingInterval.Std())
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout.Std())
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.log.Debug("Write failed, dropping client", "error", err)
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
			metrics.ClientMessagesSent.Inc()
		case <-pingTicker.C:
			// Ping round-trips through the peer; an unresponsive peer
			// fails the pong deadline and the connection dies here.
			pingCtx, cancel := context.WithTimeout(ctx, cfg.PongTimeout.Std())
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.log.Debug("Ping failed, dropping client", "error", err)
				c.close(websocket.StatusAbnormalClosure, "ping timeout")
				return
			}
		}
	}
}

// close shuts the connection down exactly once.
func (c *Client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}
