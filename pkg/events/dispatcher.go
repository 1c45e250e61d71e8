package events

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/tickwire/tickwire/pkg/metrics"
)

// Handler processes one decoded notification envelope. Handlers run on the
// channel's worker goroutine; slow handlers back-pressure into the queue.
type Handler func(ctx context.Context, env Envelope) error

// Dispatcher fans notifications out to per-channel handler queues. Each
// channel gets one bounded queue and one worker goroutine, so ordering is
// preserved per channel and a stuck consumer can never block the LISTEN
// receive loop.
type Dispatcher struct {
	queueSize int
	log       *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	queues   map[string]chan Envelope

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given per-channel queue size.
func NewDispatcher(queueSize int) *Dispatcher {
	return &Dispatcher{
		queueSize: queueSize,
		log:       slog.With("component", "event_dispatcher"),
		handlers:  make(map[string][]Handler),
		queues:    make(map[string]chan Envelope),
	}
}

// Handle registers a handler for a channel. Register before Start; multiple
// handlers on one channel run sequentially in registration order.
func (d *Dispatcher) Handle(channel string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[channel] = append(d.handlers[channel], h)
}

// Channels returns the channels that have at least one handler. The listener
// uses this to issue its initial LISTENs.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for ch := range d.handlers {
		out = append(out, ch)
	}
	return out
}

// Start spins up one worker goroutine per registered channel.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	for channel := range d.handlers {
		q := make(chan Envelope, d.queueSize)
		d.queues[channel] = q
		d.wg.Add(1)
		go d.worker(channel, q)
	}
	d.log.Info("Event dispatcher started", "channels", len(d.handlers))
}

// Dispatch decodes a raw NOTIFY payload and enqueues it for the channel's
// worker. Never blocks: on a full queue the envelope is dropped and counted,
// consumers reconcile from table state.
func (d *Dispatcher) Dispatch(channel string, payload []byte) {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		d.log.Error("Discarding undecodable notification", "channel", channel, "error", err)
		metrics.NotifyDropped.WithLabelValues(channel, "decode").Inc()
		return
	}

	d.mu.RLock()
	q, ok := d.queues[channel]
	d.mu.RUnlock()
	if !ok {
		metrics.NotifyDropped.WithLabelValues(channel, "no_handler").Inc()
		return
	}

	select {
	case q <- env:
		metrics.NotifyDispatched.WithLabelValues(channel).Inc()
	default:
		d.log.Warn("Event queue full, dropping notification",
			"channel", channel, "event_id", env.EventID)
		metrics.NotifyDropped.WithLabelValues(channel, "queue_full").Inc()
	}
}

func (d *Dispatcher) worker(channel string, q chan Envelope) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case env := <-q:
			d.mu.RLock()
			handlers := d.handlers[channel]
			d.mu.RUnlock()
			for _, h := range handlers {
				d.run(channel, env, h)
			}
		}
	}
}

// run invokes one handler, containing panics so a bad handler cannot take
// down the worker.
func (d *Dispatcher) run(channel string, env Envelope, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Event handler panicked",
				"channel", channel, "event_id", env.EventID,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()
	if err := h(d.ctx, env); err != nil {
		d.log.Error("Event handler failed",
			"channel", channel, "event_type", env.EventType,
			"event_id", env.EventID, "error", err)
	}
}

// Stop cancels the workers and waits for them to drain their current item.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.log.Info("Event dispatcher stopped")
}
