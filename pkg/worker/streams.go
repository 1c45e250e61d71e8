// Package worker is the exchange-facing service: it keeps the upstream
// market streams in lockstep with the realtime_data rows, executes task
// rows from the gateway and signal engine, and refreshes the symbol
// directory.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/exchange"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// streamOpener is the slice of exchange.Adapter the stream manager needs.
type streamOpener interface {
	OpenStream(ctx context.Context, market string) (exchange.MarketStream, error)
}

// realtimeSink receives normalized ticks and answers reconciliation reads.
type realtimeSink interface {
	UpdateData(ctx context.Context, key string, data any, eventTime int64) (bool, error)
	List(ctx context.Context) ([]models.RealtimeRow, error)
}

// retryDelay paces upstream redial attempts.
const retryDelay = time.Second

// intent is one queued change to the upstream subscription set.
type intent struct {
	key string
	add bool
}

// upstream is one open market stream plus its pump goroutine.
type upstream struct {
	market string
	stream exchange.MarketStream
	done   chan struct{}
}

// StreamManager keeps the upstream streams subscribed to exactly the keys
// present in realtime_data. Intents from subscription.add / subscription.remove
// notifications are coalesced for a short window before being applied, so a
// burst of gateway churn becomes one upstream command per market.
type StreamManager struct {
	adapter  streamOpener
	realtime realtimeSink
	window   time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	desired map[string]struct{} // canonical keys we should be streaming
	queue   []intent
	reset   bool // pending full resync from table state

	streams map[string]*upstream

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStreamManager(adapter streamOpener, realtime realtimeSink, cfg config.WorkerConfig) *StreamManager {
	return &StreamManager{
		adapter:  adapter,
		realtime: realtime,
		window:   cfg.BatchWindow.Std(),
		log:      slog.With("component", "stream_manager"),
		desired:  make(map[string]struct{}),
		streams:  make(map[string]*upstream),
		kick:     make(chan struct{}, 1),
	}
}

// RegisterHandlers binds the manager to the notification fabric. Call before
// the dispatcher starts.
func (m *StreamManager) RegisterHandlers(d *events.Dispatcher) {
	d.Handle(events.ChannelSubscriptionAdd, m.handleAdd)
	d.Handle(events.ChannelSubscriptionRemove, m.handleRemove)
	d.Handle(events.ChannelSubscriptionClean, m.handleClean)
}

// Start launches the apply loop and requests the initial table resync.
func (m *StreamManager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
	m.Resync()
}

// Stop closes every stream and waits for the apply loop.
func (m *StreamManager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[string]*upstream)
	m.mu.Unlock()
	for _, up := range streams {
		_ = up.stream.Close()
	}
}

// Resync schedules a rebuild of the desired set from realtime_data. Used at
// startup and whenever the notification connection was down, since intents
// delivered in the gap are lost.
func (m *StreamManager) Resync() {
	m.mu.Lock()
	m.reset = true
	m.mu.Unlock()
	m.poke()
}

func (m *StreamManager) handleAdd(_ context.Context, env events.Envelope) error {
	var ev events.SubscriptionEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	m.enqueue(ev.SubscriptionKey, true)
	return nil
}

func (m *StreamManager) handleRemove(_ context.Context, env events.Envelope) error {
	var ev events.SubscriptionEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	m.enqueue(ev.SubscriptionKey, false)
	return nil
}

// handleClean tears the upstream state down and rebuilds it from the table.
// The gateway sends this after its startup scrub.
func (m *StreamManager) handleClean(_ context.Context, env events.Envelope) error {
	var ev events.SubscriptionEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	if ev.Action != events.CleanAll {
		return nil
	}
	m.log.Info("Full stream reset requested")
	m.Resync()
	return nil
}

// enqueue queues one intent; streamable(key) is checked at apply time so a
// malformed key is logged once instead of wedging the queue.
func (m *StreamManager) enqueue(key string, add bool) {
	if key == "" {
		return
	}
	m.mu.Lock()
	m.queue = append(m.queue, intent{key: key, add: add})
	m.mu.Unlock()
	m.poke()
}

func (m *StreamManager) poke() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// run coalesces intents for the batch window, then applies them.
func (m *StreamManager) run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.kick:
		}

		// Let the burst accumulate before touching the upstream.
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.window):
		}

		m.apply(ctx)
	}
}

// apply drains the queue and reconciles the streams toward the desired set.
func (m *StreamManager) apply(ctx context.Context) {
	m.mu.Lock()
	queue := m.queue
	m.queue = nil
	reset := m.reset
	m.reset = false
	m.mu.Unlock()

	if reset {
		m.rebuild(ctx, queue)
		return
	}

	adds := make(map[string][]string)    // market -> keys
	removes := make(map[string][]string) // market -> keys
	for _, in := range queue {
		market, ok := m.classify(in.key)
		if !ok {
			continue
		}
		m.mu.Lock()
		_, have := m.desired[in.key]
		if in.add && !have {
			m.desired[in.key] = struct{}{}
			adds[market] = append(adds[market], in.key)
		} else if !in.add && have {
			delete(m.desired, in.key)
			removes[market] = append(removes[market], in.key)
		}
		m.mu.Unlock()
	}

	for market, keys := range removes {
		if up := m.lookup(market); up != nil {
			if err := up.stream.Unsubscribe(ctx, keys); err != nil {
				m.log.Warn("Upstream unsubscribe failed", "market", market, "error", err)
			}
		}
	}
	for market, keys := range adds {
		m.subscribe(ctx, market, keys)
	}
	m.updateGauge()
}

// rebuild replaces all upstream state with what the table says. Queued
// intents are discarded: the table already reflects them.
func (m *StreamManager) rebuild(ctx context.Context, _ []intent) {
	rows, err := m.realtime.List(ctx)
	if err != nil {
		m.log.Error("Resync read failed, retrying", "error", err)
		m.retryLater()
		m.mu.Lock()
		m.reset = true
		m.mu.Unlock()
		return
	}

	byMarket := make(map[string][]string)
	total := 0
	for _, row := range rows {
		market, ok := m.classify(row.SubscriptionKey)
		if !ok {
			continue
		}
		byMarket[market] = append(byMarket[market], row.SubscriptionKey)
		total++
	}

	m.mu.Lock()
	m.desired = make(map[string]struct{}, total)
	for _, keys := range byMarket {
		for _, k := range keys {
			m.desired[k] = struct{}{}
		}
	}
	streams := m.streams
	m.streams = make(map[string]*upstream)
	m.mu.Unlock()

	for _, up := range streams {
		_ = up.stream.Close()
	}

	for market, keys := range byMarket {
		m.subscribe(ctx, market, keys)
	}
	m.updateGauge()
	m.log.Info("Stream state rebuilt from table", "keys", total, "markets", len(byMarket))
}

// subscribe ensures the market's stream is open and adds keys to it. On
// failure the keys fall out of the desired set and come back through a
// retry kick.
func (m *StreamManager) subscribe(ctx context.Context, market string, keys []string) {
	up, err := m.ensure(ctx, market)
	if err != nil {
		m.log.Error("Upstream dial failed", "market", market, "error", err)
		m.requeue(keys)
		return
	}
	if err := up.stream.Subscribe(ctx, keys); err != nil {
		m.log.Error("Upstream subscribe failed", "market", market, "error", err)
		m.dropStream(market, up)
		m.requeue(keys)
	}
}

func (m *StreamManager) ensure(ctx context.Context, market string) (*upstream, error) {
	if up := m.lookup(market); up != nil {
		return up, nil
	}

	stream, err := m.adapter.OpenStream(ctx, market)
	if err != nil {
		return nil, err
	}
	up := &upstream{market: market, stream: stream, done: make(chan struct{})}

	m.mu.Lock()
	m.streams[market] = up
	m.mu.Unlock()

	go m.pump(ctx, up)
	m.log.Info("Upstream stream opened", "market", market)
	return up, nil
}

func (m *StreamManager) lookup(market string) *upstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[market]
}

// pump forwards normalized ticks into realtime_data until the stream dies,
// then schedules a reconnect for the market's keys.
func (m *StreamManager) pump(ctx context.Context, up *upstream) {
	defer close(up.done)

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-up.stream.Errors():
			if !ok {
				return
			}
			m.log.Warn("Upstream stream failed", "market", up.market, "error", err)
			metrics.StreamReconnects.Inc()
			m.reopen(up)
			return
		case ev, ok := <-up.stream.Events():
			if !ok {
				return
			}
			m.handleTick(ctx, ev)
		}
	}
}

// handleTick writes one tick. A write that hits no row means nobody wants
// the key anymore; drop it from the upstream instead of writing into the
// void forever.
func (m *StreamManager) handleTick(ctx context.Context, ev exchange.StreamEvent) {
	ok, err := m.realtime.UpdateData(ctx, ev.Key, ev.Data, ev.EventTime)
	if err != nil {
		m.log.Error("Tick write failed", "key", ev.Key, "error", err)
		return
	}
	if !ok {
		m.log.Info("Dropping orphaned stream key", "key", ev.Key)
		m.enqueue(ev.Key, false)
		return
	}
	metrics.TicksWritten.WithLabelValues(ev.DataType).Inc()
}

// reopen tears the dead stream down and requeues its keys.
func (m *StreamManager) reopen(up *upstream) {
	m.dropStream(up.market, up)

	m.mu.Lock()
	var keys []string
	for key := range m.desired {
		if market, ok := m.classify(key); ok && market == up.market {
			keys = append(keys, key)
			delete(m.desired, key)
		}
	}
	m.mu.Unlock()

	m.requeue(keys)
}

func (m *StreamManager) dropStream(market string, up *upstream) {
	m.mu.Lock()
	if m.streams[market] == up {
		delete(m.streams, market)
	}
	m.mu.Unlock()
	_ = up.stream.Close()
}

// requeue puts keys back as add intents after the retry delay.
func (m *StreamManager) requeue(keys []string) {
	if len(keys) == 0 {
		return
	}
	m.mu.Lock()
	for _, k := range keys {
		m.queue = append(m.queue, intent{key: k, add: true})
	}
	m.mu.Unlock()
	m.retryLater()
}

func (m *StreamManager) retryLater() {
	time.AfterFunc(retryDelay, m.poke)
}

// classify maps a key to its upstream market; false means the key does not
// belong on a market stream (signal keys, account snapshots, garbage).
func (m *StreamManager) classify(key string) (string, bool) {
	if subkey.IsSignalKey(key) {
		return "", false
	}
	k, err := subkey.Parse(key)
	if err != nil {
		m.log.Warn("Ignoring malformed subscription key", "key", key, "error", err)
		return "", false
	}
	if k.DataType == subkey.DataTypeAccount {
		// Account snapshots are fetched over signed REST, not streamed.
		return "", false
	}
	return k.MarketType(), true
}

func (m *StreamManager) updateGauge() {
	m.mu.Lock()
	n := len(m.desired)
	m.mu.Unlock()
	metrics.StreamSubscriptions.Set(float64(n))
}
