package events

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/metrics"
)

// listenCmd is a LISTEN/UNLISTEN command executed by the receive loop,
// which is the sole goroutine that touches the pgx connection.
type listenCmd struct {
	sql    string
	result chan error
}

// ReconnectHook runs after the LISTEN connection is re-established and all
// channels are re-LISTENed. Notifications emitted during the outage are
// lost; hooks reconcile from table state.
type ReconnectHook func(ctx context.Context)

// NotifyListener owns the dedicated LISTEN connection. It is never shared
// with the query pool: a busy query connection would stall notification
// delivery, and pgx forbids concurrent use anyway.
type NotifyListener struct {
	connString string
	dispatcher *Dispatcher
	minDelay   time.Duration
	maxDelay   time.Duration
	log        *slog.Logger

	conn   *pgx.Conn
	connMu sync.Mutex

	channels   map[string]bool // currently LISTENed channels
	channelsMu sync.RWMutex

	hooks   []ReconnectHook
	hooksMu sync.RWMutex

	// cmdCh serializes LISTEN/UNLISTEN through the receive loop, avoiding
	// the "conn busy" race between WaitForNotification and Exec.
	cmdCh   chan listenCmd
	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener feeding the given dispatcher.
func NewNotifyListener(connString string, dispatcher *Dispatcher, cfg config.EventsConfig) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		dispatcher: dispatcher,
		minDelay:   cfg.ReconnectMinDelay.Std(),
		maxDelay:   cfg.ReconnectMaxDelay.Std(),
		log:        slog.With("component", "notify_listener"),
		channels:   make(map[string]bool),
		cmdCh:      make(chan listenCmd, 16),
	}
}

// OnReconnect registers a reconcile hook. Register before Start.
func (l *NotifyListener) OnReconnect(hook ReconnectHook) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Start establishes the dedicated LISTEN connection and begins receiving.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("connect for LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	l.log.Info("Notification listener started")
	return nil
}

// Subscribe issues LISTEN for a channel on the dedicated connection. The
// command is executed by the receive loop to avoid concurrent pgx access.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	l.channelsMu.Lock()
	if l.channels[channel] {
		l.channelsMu.Unlock()
		return nil
	}
	l.channelsMu.Unlock()

	if !l.running.Load() {
		return fmt.Errorf("LISTEN connection not established")
	}

	sanitized := pgx.Identifier{channel}.Sanitize()
	cmd := listenCmd{
		sql:    "LISTEN " + sanitized,
		result: make(chan error, 1),
	}

	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("LISTEN %s: %w", sanitized, err)
		}
		l.channelsMu.Lock()
		l.channels[channel] = true
		l.channelsMu.Unlock()
		l.log.Debug("Listening on channel", "channel", channel)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe issues UNLISTEN for a channel.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	l.channelsMu.Lock()
	if !l.channels[channel] {
		l.channelsMu.Unlock()
		return nil
	}
	l.channelsMu.Unlock()

	if !l.running.Load() {
		return nil
	}

	sanitized := pgx.Identifier{channel}.Sanitize()
	cmd := listenCmd{
		sql:    "UNLISTEN " + sanitized,
		result: make(chan error, 1),
	}

	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("UNLISTEN %s: %w", sanitized, err)
		}
		l.channelsMu.Lock()
		delete(l.channels, channel)
		l.channelsMu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receiveLoop receives notifications and hands them to the dispatcher.
// It is the sole goroutine touching the pgx connection.
func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.processPendingCmds(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		// Short timeout so the loop periodically returns to process
		// pending LISTEN/UNLISTEN commands.
		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			l.log.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.dispatcher.Dispatch(notification.Channel, []byte(notification.Payload))
	}
}

// processPendingCmds drains the command channel, executing each
// LISTEN/UNLISTEN on the connection.
func (l *NotifyListener) processPendingCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmdCh:
			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()

			if conn == nil {
				cmd.result <- fmt.Errorf("LISTEN connection not established")
				continue
			}

			_, err := conn.Exec(ctx, cmd.sql)
			cmd.result <- err
		default:
			return
		}
	}
}

// reconnect re-establishes the connection with capped exponential backoff,
// re-LISTENs every channel, then runs the reconcile hooks.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
	l.connMu.Unlock()

	backoff := l.minDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff + time.Duration(rand.Int64N(int64(backoff/4+1)))):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			l.log.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, l.maxDelay)
			continue
		}

		l.channelsMu.RLock()
		relistenFailed := false
		for ch := range l.channels {
			sanitized := pgx.Identifier{ch}.Sanitize()
			if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
				l.log.Error("Re-LISTEN failed", "channel", ch, "error", err)
				relistenFailed = true
				break
			}
		}
		l.channelsMu.RUnlock()

		if relistenFailed {
			_ = conn.Close(ctx)
			backoff = min(backoff*2, l.maxDelay)
			continue
		}

		l.connMu.Lock()
		l.conn = conn
		l.connMu.Unlock()

		metrics.NotifyReconnects.Inc()
		l.log.Info("Notification listener reconnected")

		// Hooks run off-loop: reconciliation queries must not stall
		// notification delivery.
		l.hooksMu.RLock()
		hooks := make([]ReconnectHook, len(l.hooks))
		copy(hooks, l.hooks)
		l.hooksMu.RUnlock()
		if len(hooks) > 0 {
			go func() {
				for _, hook := range hooks {
					hook(ctx)
				}
			}()
		}
		return
	}
}

// Stop signals the receive loop to exit, waits for it, then closes the
// connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)

	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
	l.log.Info("Notification listener stopped")
}
