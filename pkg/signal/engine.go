package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// alertReader is the slice of store.AlertStore the engine needs.
type alertReader interface {
	List(ctx context.Context, onlyEnabled bool) ([]models.AlertConfig, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.AlertConfig, error)
}

// signalInserter persists verdicts; implemented by store.SignalStore.
type signalInserter interface {
	Insert(ctx context.Context, sig *models.StrategySignal) error
}

// subscriberStore keeps the engine's label on the rows it watches.
type subscriberStore interface {
	AddSubscriber(ctx context.Context, key, dataType, label string) error
	RemoveSubscriber(ctx context.Context, key, label string) (bool, error)
	ScrubSubscriber(ctx context.Context, label string) (int64, error)
}

// metadataPublisher records the strategy catalog; implemented by
// store.StrategyMetadataStore.
type metadataPublisher interface {
	Upsert(ctx context.Context, meta models.StrategyMetadata) error
}

// alertRuntime is one live alert: its config, its built strategy, and the
// trigger-gating state.
type alertRuntime struct {
	cfg      models.AlertConfig
	strategy Strategy

	// lastMinute is the wall-clock UTC minute of the last each_minute
	// evaluation, so the alert fires at most once per minute.
	lastMinute int64
}

// series is one watched symbol+interval: its cache, its evaluation lock,
// and the alerts attached to it.
type series struct {
	key      string // subscription key, EXCHANGE:SYMBOL[.P]@KLINE_INTERVAL
	symbol   string // canonical symbol
	interval string

	// evalMu serializes cache writes and evaluation. Updates arriving while
	// it is held are skipped, not queued: the next tick carries fresher data.
	evalMu sync.Mutex
	cache  *seriesCache

	alerts map[uuid.UUID]struct{}
}

// Engine mirrors enabled alerts, maintains the per-series caches, and turns
// realtime klines into strategy verdicts.
type Engine struct {
	cfg      config.SignalConfig
	registry *Registry
	alerts   alertReader
	signals  signalInserter
	realtime subscriberStore
	metadata metadataPublisher
	filler   *Filler
	log      *slog.Logger

	mu       sync.Mutex
	runtimes map[uuid.UUID]*alertRuntime
	bySeries map[string]*series

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(registry *Registry, alerts alertReader, signals signalInserter, realtime subscriberStore, metadata metadataPublisher, filler *Filler, cfg config.SignalConfig) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: registry,
		alerts:   alerts,
		signals:  signals,
		realtime: realtime,
		metadata: metadata,
		filler:   filler,
		log:      slog.With("component", "signal_engine"),
		runtimes: make(map[uuid.UUID]*alertRuntime),
		bySeries: make(map[string]*series),
	}
}

// RegisterHandlers binds the engine to the dispatcher. Call before the
// dispatcher starts.
func (e *Engine) RegisterHandlers(d *events.Dispatcher) {
	d.Handle(events.ChannelRealtimeUpdate, e.handleRealtimeUpdate)
	d.Handle(events.ChannelAlertConfigNew, e.handleAlertNew)
	d.Handle(events.ChannelAlertConfigUpdate, e.handleAlertUpdate)
	d.Handle(events.ChannelAlertConfigDelete, e.handleAlertDelete)
}

// Start publishes the strategy catalog, clears stale subscription labels,
// and loads every enabled alert.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx, e.cancel = context.WithCancel(ctx)

	for _, meta := range e.registry.Descriptors() {
		if err := e.metadata.Upsert(ctx, meta); err != nil {
			return fmt.Errorf("publish strategy metadata: %w", err)
		}
	}

	scrubbed, err := e.realtime.ScrubSubscriber(ctx, models.SubscriberSignalService)
	if err != nil {
		return fmt.Errorf("scrub stale signal subscriptions: %w", err)
	}
	e.log.Info("Cleared stale signal subscriptions", "rows_deleted", scrubbed)

	if err := e.loadAlerts(ctx); err != nil {
		return err
	}
	e.log.Info("Signal engine started", "alerts", e.AlertCount())
	return nil
}

// Stop cancels background fills and waits for them.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Resync reloads the alert set from the table. Run after notification
// reconnects, since config changes delivered in the gap are lost.
func (e *Engine) Resync(ctx context.Context) error {
	e.mu.Lock()
	known := make(map[uuid.UUID]struct{}, len(e.runtimes))
	for id := range e.runtimes {
		known[id] = struct{}{}
	}
	e.mu.Unlock()

	alerts, err := e.alerts.List(ctx, true)
	if err != nil {
		return fmt.Errorf("resync alerts: %w", err)
	}

	for _, a := range alerts {
		delete(known, a.ID)
		e.upsertAlert(ctx, a)
	}
	// Anything left was deleted or disabled while we were deaf.
	for id := range known {
		e.dropAlert(ctx, id)
	}
	return nil
}

func (e *Engine) loadAlerts(ctx context.Context) error {
	alerts, err := e.alerts.List(ctx, true)
	if err != nil {
		return fmt.Errorf("load enabled alerts: %w", err)
	}
	for _, a := range alerts {
		e.upsertAlert(ctx, a)
	}
	return nil
}

// AlertCount returns the number of live alerts.
func (e *Engine) AlertCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runtimes)
}

// seriesKeyFor renders the subscription key an alert's series listens on.
func seriesKeyFor(symbol, interval string) (string, error) {
	exchange, native, suffix, err := subkey.SplitCanonicalSymbol(symbol)
	if err != nil {
		return "", err
	}
	k := subkey.Key{
		Exchange: exchange,
		Symbol:   native,
		Suffix:   suffix,
		DataType: subkey.DataTypeKline,
		Interval: interval,
	}
	return k.String(), nil
}

// upsertAlert builds (or rebuilds) the runtime for one alert and attaches
// it to its series, creating the series on first use.
func (e *Engine) upsertAlert(ctx context.Context, cfg models.AlertConfig) {
	strategy, err := e.registry.New(cfg.StrategyType, cfg.Params)
	if err != nil {
		e.log.Error("Skipping alert with unusable strategy", "alert_id", cfg.ID, "error", err)
		return
	}
	key, err := seriesKeyFor(cfg.Symbol, cfg.Interval)
	if err != nil {
		e.log.Error("Skipping alert with unusable symbol", "alert_id", cfg.ID, "error", err)
		return
	}

	// An alert moving between series detaches from the old one first.
	e.dropAlert(ctx, cfg.ID)

	e.mu.Lock()
	e.runtimes[cfg.ID] = &alertRuntime{cfg: cfg, strategy: strategy}
	ser, exists := e.bySeries[key]
	if !exists {
		ser = &series{
			key:      key,
			symbol:   cfg.Symbol,
			interval: cfg.Interval,
			cache:    newSeriesCache(cfg.Symbol, cfg.Interval, e.cfg.CacheCapacity, e.cfg.RequiredKlines),
			alerts:   make(map[uuid.UUID]struct{}),
		}
		e.bySeries[key] = ser
	}
	ser.alerts[cfg.ID] = struct{}{}
	e.mu.Unlock()

	if !exists {
		e.openSeries(ctx, ser)
	}
	e.log.Info("Alert live", "alert_id", cfg.ID, "strategy", cfg.StrategyType, "series", key)
}

// openSeries subscribes upstream and warms the cache in the background.
func (e *Engine) openSeries(ctx context.Context, ser *series) {
	if err := e.realtime.AddSubscriber(ctx, ser.key, string(subkey.DataTypeKline), models.SubscriberSignalService); err != nil {
		e.log.Error("Failed to subscribe series", "series", ser.key, "error", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.fillSeries(e.runCtx, ser)
	}()
}

// fillSeries blocks until the series has warm history, then admits it.
func (e *Engine) fillSeries(ctx context.Context, ser *series) {
	bars, err := e.filler.Fill(ctx, ser.symbol, ser.interval)
	if err != nil {
		e.log.Error("Series fill abandoned", "series", ser.key, "error", err)
		return
	}

	ser.evalMu.Lock()
	ready := ser.cache.load(bars)
	ser.evalMu.Unlock()
	e.log.Info("Series cache warmed", "series", ser.key, "bars", len(bars), "ready", ready)
}

// dropAlert detaches one alert; the last alert on a series releases the
// upstream subscription.
func (e *Engine) dropAlert(ctx context.Context, id uuid.UUID) {
	e.mu.Lock()
	rt, ok := e.runtimes[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.runtimes, id)

	var drained *series
	if key, err := seriesKeyFor(rt.cfg.Symbol, rt.cfg.Interval); err == nil {
		if ser := e.bySeries[key]; ser != nil {
			delete(ser.alerts, id)
			if len(ser.alerts) == 0 {
				delete(e.bySeries, key)
				drained = ser
			}
		}
	}
	e.mu.Unlock()

	if drained != nil {
		if _, err := e.realtime.RemoveSubscriber(ctx, drained.key, models.SubscriberSignalService); err != nil {
			e.log.Error("Failed to release drained series", "series", drained.key, "error", err)
		}
		e.log.Info("Series released", "series", drained.key)
	}
}

func (e *Engine) handleAlertNew(ctx context.Context, env events.Envelope) error {
	var ev events.AlertConfigEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	if ev.Enabled {
		e.upsertAlert(ctx, ev.AlertConfig)
	}
	return nil
}

// handleAlertUpdate applies a config change. Changes to what is evaluated
// (symbol, interval, strategy, trigger, params) rebuild the runtime; pure
// metadata or enablement flips apply in place.
func (e *Engine) handleAlertUpdate(ctx context.Context, env events.Envelope) error {
	var ev events.AlertConfigEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}

	if !ev.Enabled {
		e.dropAlert(ctx, ev.ID)
		return nil
	}

	if ev.Old != nil && inPlaceApplicable(ev) {
		e.mu.Lock()
		if rt, ok := e.runtimes[ev.ID]; ok {
			rt.cfg = ev.AlertConfig
			e.mu.Unlock()
			return nil
		}
		e.mu.Unlock()
		// Alert was enabled just now (or unknown); fall through to a build.
	}

	e.upsertAlert(ctx, ev.AlertConfig)
	return nil
}

// inPlaceApplicable reports whether the update left the evaluated surface
// untouched.
func inPlaceApplicable(ev events.AlertConfigEvent) bool {
	old := ev.Old
	return old.Symbol == ev.Symbol &&
		old.Interval == ev.Interval &&
		old.StrategyType == ev.StrategyType &&
		old.TriggerType == string(ev.TriggerType) &&
		string(old.Params) == string(ev.Params)
}

func (e *Engine) handleAlertDelete(ctx context.Context, env events.Envelope) error {
	var ev events.AlertConfigEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	e.dropAlert(ctx, ev.ID)
	return nil
}

// handleRealtimeUpdate folds one kline tick into its series and evaluates
// the attached alerts. A held series lock skips the update instead of
// queueing behind it.
func (e *Engine) handleRealtimeUpdate(ctx context.Context, env events.Envelope) error {
	var ev events.RealtimeEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	if ev.DataType != string(subkey.DataTypeKline) {
		return nil
	}

	e.mu.Lock()
	ser := e.bySeries[ev.SubscriptionKey]
	e.mu.Unlock()
	if ser == nil {
		return nil
	}

	var tick models.KlinePayload
	if err := json.Unmarshal(ev.Data, &tick); err != nil {
		return fmt.Errorf("decode kline tick for %s: %w", ev.SubscriptionKey, err)
	}

	if !ser.evalMu.TryLock() {
		metrics.SignalUpdatesSkipped.Inc()
		return nil
	}
	defer ser.evalMu.Unlock()

	switch ser.cache.apply(tick) {
	case tickIgnored:
		return nil
	case tickGap:
		// Repair inline, still holding the lock: ticks arriving meanwhile
		// are skipped by the TryLock above, and evaluation resumes only on
		// contiguous history. The refill usually covers the gapped tick; if
		// it does not, re-applying it here closes the seam.
		if !e.repairSeries(ctx, ser) {
			return nil
		}
		if ser.cache.apply(tick) != tickApplied {
			return nil
		}
	}

	if !ser.cache.ready {
		return nil
	}
	e.evaluateSeries(ctx, ser, tick)
	return nil
}

// repairSeries refills a gapped series. The caller holds the series lock,
// so this must not go through fillSeries, which takes it.
func (e *Engine) repairSeries(ctx context.Context, ser *series) bool {
	e.log.Warn("Series gap detected, refilling", "series", ser.key)
	bars, err := e.filler.Fill(ctx, ser.symbol, ser.interval)
	if err != nil {
		e.log.Error("Series gap repair abandoned", "series", ser.key, "error", err)
		return false
	}
	ready := ser.cache.load(bars)
	e.log.Info("Series cache refilled", "series", ser.key, "bars", len(bars), "ready", ready)
	return ready
}

// evalItem is one alert captured for evaluation: the config copy is taken
// under the engine lock so concurrent in-place updates cannot tear it.
type evalItem struct {
	rt       *alertRuntime
	cfg      models.AlertConfig
	strategy Strategy
}

// evaluateSeries runs every attached alert whose trigger admits this tick.
func (e *Engine) evaluateSeries(ctx context.Context, ser *series, tick models.KlinePayload) {
	e.mu.Lock()
	items := make([]evalItem, 0, len(ser.alerts))
	for id := range ser.alerts {
		if rt := e.runtimes[id]; rt != nil {
			items = append(items, evalItem{rt: rt, cfg: rt.cfg, strategy: rt.strategy})
		}
	}
	e.mu.Unlock()

	now := time.Now().UTC()
	for _, it := range items {
		if !triggerAdmits(it.rt, it.cfg.TriggerType, tick, now) {
			continue
		}
		e.evaluate(ctx, it, ser)
	}
}

// triggerAdmits applies the alert's trigger gate to one tick. lastMinute
// state is safe here: an alert belongs to exactly one series and that
// series' updates are serialized by its evaluation lock.
func triggerAdmits(rt *alertRuntime, trigger models.TriggerType, tick models.KlinePayload, now time.Time) bool {
	switch trigger {
	case models.TriggerEachKline, models.TriggerOnceOnly:
		return true
	case models.TriggerEachKlineClose:
		return tick.IsClosed
	case models.TriggerEachMinute:
		minute := now.Unix() / 60
		if rt.lastMinute == minute {
			return false
		}
		rt.lastMinute = minute
		return true
	default:
		return false
	}
}

func (e *Engine) evaluate(ctx context.Context, it evalItem, ser *series) {
	metrics.SignalEvaluations.WithLabelValues(it.cfg.StrategyType).Inc()

	verdict, err := it.strategy.Evaluate(ser.cache.window())
	if err != nil {
		e.log.Error("Strategy evaluation failed",
			"alert_id", it.cfg.ID, "strategy", it.cfg.StrategyType, "error", err)
		return
	}

	fired := verdict.Signal == models.SignalLong || verdict.Signal == models.SignalShort
	if fired {
		e.persist(ctx, it.cfg, verdict)
	}

	// once_only alerts run exactly one evaluation, firing or not.
	if it.cfg.TriggerType == models.TriggerOnceOnly {
		e.retire(ctx, it.cfg.ID)
	}
}

func (e *Engine) persist(ctx context.Context, cfg models.AlertConfig, verdict Verdict) {
	var metadata json.RawMessage
	if len(verdict.Metadata) > 0 {
		raw, err := json.Marshal(verdict.Metadata)
		if err != nil {
			e.log.Error("Dropping unserializable verdict metadata",
				"alert_id", cfg.ID, "error", err)
		} else {
			metadata = raw
		}
	}

	sig := &models.StrategySignal{
		AlertID:      cfg.ID,
		StrategyType: cfg.StrategyType,
		Symbol:       cfg.Symbol,
		Interval:     cfg.Interval,
		TriggerType:  cfg.TriggerType,
		Signal:       verdict.Signal,
		Reason:       verdict.Reason,
		Metadata:     metadata,
	}
	if err := e.signals.Insert(ctx, sig); err != nil {
		e.log.Error("Failed to persist signal", "alert_id", cfg.ID, "error", err)
		return
	}
	metrics.SignalsEmitted.WithLabelValues(cfg.StrategyType, string(verdict.Signal)).Inc()
	e.log.Info("Signal emitted", "alert_id", cfg.ID,
		"strategy", cfg.StrategyType, "signal", verdict.Signal, "reason", verdict.Reason)
}

// retire disables a once_only alert after its single evaluation. The
// is_enabled flip notifies back through alert_config.update, which drops
// the runtime everywhere, this process included.
func (e *Engine) retire(ctx context.Context, id uuid.UUID) {
	if _, err := e.alerts.SetEnabled(ctx, id, false); err != nil {
		e.log.Error("Failed to retire once_only alert", "alert_id", id, "error", err)
	}
	e.dropAlert(ctx, id)
}
