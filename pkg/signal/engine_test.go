package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/models"
)

type fakeAlerts struct {
	mu       sync.Mutex
	rows     []models.AlertConfig
	disabled []uuid.UUID
}

func (f *fakeAlerts) List(_ context.Context, onlyEnabled bool) ([]models.AlertConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AlertConfig, 0, len(f.rows))
	for _, a := range f.rows {
		if !onlyEnabled || a.Enabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlerts) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) (*models.AlertConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !enabled {
		f.disabled = append(f.disabled, id)
	}
	return &models.AlertConfig{ID: id, Enabled: enabled}, nil
}

type fakeSignals struct {
	mu       sync.Mutex
	inserted []models.StrategySignal
}

func (f *fakeSignals) Insert(_ context.Context, sig *models.StrategySignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, *sig)
	return nil
}

func (f *fakeSignals) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeSubscribers struct {
	mu       sync.Mutex
	added    []string
	removed  []string
	scrubbed []string
}

func (f *fakeSubscribers) AddSubscriber(_ context.Context, key, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, key)
	return nil
}

func (f *fakeSubscribers) RemoveSubscriber(_ context.Context, key, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	return false, nil
}

func (f *fakeSubscribers) ScrubSubscriber(_ context.Context, label string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrubbed = append(f.scrubbed, label)
	return 0, nil
}

type fakeMetadata struct {
	mu    sync.Mutex
	types []string
}

func (f *fakeMetadata) Upsert(_ context.Context, meta models.StrategyMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, meta.StrategyType)
	return nil
}

// stubStrategy echoes the verdict named in its params.
type stubStrategy struct {
	verdict models.SignalValue
}

func (s stubStrategy) Evaluate(_ []models.Bar) (Verdict, error) {
	if s.verdict == "" || s.verdict == models.SignalNone {
		return None(), nil
	}
	return Verdict{Signal: s.verdict, Reason: "stub fired", Metadata: map[string]any{"source": "stub"}}, nil
}

func stubRegistry() *Registry {
	r := NewRegistry()
	r.Register(Definition{
		Meta: models.StrategyMetadata{StrategyType: "stub", Name: "Stub"},
		New: func(params json.RawMessage) (Strategy, error) {
			var p struct {
				Verdict models.SignalValue `json:"verdict"`
				Broken  bool               `json:"broken"`
			}
			if len(params) > 0 {
				if err := json.Unmarshal(params, &p); err != nil {
					return nil, err
				}
			}
			if p.Broken {
				return nil, fmt.Errorf("unusable params")
			}
			return stubStrategy{verdict: p.Verdict}, nil
		},
	})
	return r
}

type engineHarness struct {
	engine  *Engine
	alerts  *fakeAlerts
	signals *fakeSignals
	subs    *fakeSubscribers
	meta    *fakeMetadata
	history *fakeHistory
}

func newEngineHarness(t *testing.T, rows ...models.AlertConfig) *engineHarness {
	t.Helper()
	h := &engineHarness{
		alerts:  &fakeAlerts{rows: rows},
		signals: &fakeSignals{},
		subs:    &fakeSubscribers{},
		meta:    &fakeMetadata{},
		history: &fakeHistory{responses: [][]models.Bar{minuteBars(0, 4)}},
	}
	filler := NewFiller(&fakeFillTasks{}, h.history, fillConfig())
	h.engine = NewEngine(stubRegistry(), h.alerts, h.signals, h.subs, h.meta, filler, fillConfig())
	t.Cleanup(h.engine.Stop)
	return h
}

func stubAlert(verdict models.SignalValue, trigger models.TriggerType) models.AlertConfig {
	return models.AlertConfig{
		ID:           uuid.New(),
		Name:         "test alert",
		StrategyType: "stub",
		Symbol:       "BINANCE:BTCUSDT",
		Interval:     "1",
		TriggerType:  trigger,
		Params:       json.RawMessage(fmt.Sprintf(`{"verdict":%q}`, verdict)),
		Enabled:      true,
	}
}

func (h *engineHarness) waitSeriesReady(t *testing.T, key string) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.engine.mu.Lock()
		ser := h.engine.bySeries[key]
		h.engine.mu.Unlock()
		if ser == nil {
			return false
		}
		ser.evalMu.Lock()
		defer ser.evalMu.Unlock()
		return ser.cache.ready
	}, time.Second, time.Millisecond)
}

func realtimeEnvelope(t *testing.T, key string, tick models.KlinePayload) events.Envelope {
	t.Helper()
	data, err := json.Marshal(tick)
	require.NoError(t, err)
	raw, err := json.Marshal(events.RealtimeEvent{SubscriptionKey: key, DataType: "KLINE", Data: data})
	require.NoError(t, err)
	return events.Envelope{EventType: events.ChannelRealtimeUpdate, Data: raw}
}

func alertEnvelope(t *testing.T, channel string, ev events.AlertConfigEvent) events.Envelope {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return events.Envelope{EventType: channel, Data: raw}
}

const testSeriesKey = "BINANCE:BTCUSDT@KLINE_1"

func TestEngineStartLoadsAlertsAndWarmsCache(t *testing.T) {
	h := newEngineHarness(t, stubAlert(models.SignalLong, models.TriggerEachKline))

	require.NoError(t, h.engine.Start(context.Background()))
	assert.Equal(t, []string{models.SubscriberSignalService}, h.subs.scrubbed)
	assert.Equal(t, []string{"stub"}, h.meta.types)
	assert.Equal(t, 1, h.engine.AlertCount())
	assert.Equal(t, []string{testSeriesKey}, h.subs.added)

	h.waitSeriesReady(t, testSeriesKey)
}

func TestEngineEvaluatesOnTick(t *testing.T) {
	cfg := stubAlert(models.SignalLong, models.TriggerEachKline)
	h := newEngineHarness(t, cfg)
	require.NoError(t, h.engine.Start(context.Background()))
	h.waitSeriesReady(t, testSeriesKey)

	// Cache tail opens at 180000; an in-place update of that bar evaluates.
	env := realtimeEnvelope(t, testSeriesKey, minuteTick(3*minuteMs, 99, false))
	require.NoError(t, h.engine.handleRealtimeUpdate(context.Background(), env))

	require.Equal(t, 1, h.signals.count())
	sig := h.signals.inserted[0]
	assert.Equal(t, cfg.ID, sig.AlertID)
	assert.Equal(t, models.SignalLong, sig.Signal)
	assert.Equal(t, "stub fired", sig.Reason)
	assert.JSONEq(t, `{"source":"stub"}`, string(sig.Metadata))
}

func TestEngineNoneVerdictNotPersisted(t *testing.T) {
	h := newEngineHarness(t, stubAlert(models.SignalNone, models.TriggerEachKline))
	require.NoError(t, h.engine.Start(context.Background()))
	h.waitSeriesReady(t, testSeriesKey)

	env := realtimeEnvelope(t, testSeriesKey, minuteTick(3*minuteMs, 99, false))
	require.NoError(t, h.engine.handleRealtimeUpdate(context.Background(), env))
	assert.Zero(t, h.signals.count())
}

func TestEngineEachKlineCloseGating(t *testing.T) {
	h := newEngineHarness(t, stubAlert(models.SignalShort, models.TriggerEachKlineClose))
	require.NoError(t, h.engine.Start(context.Background()))
	h.waitSeriesReady(t, testSeriesKey)

	open := realtimeEnvelope(t, testSeriesKey, minuteTick(3*minuteMs, 99, false))
	require.NoError(t, h.engine.handleRealtimeUpdate(context.Background(), open))
	assert.Zero(t, h.signals.count(), "open bar must not evaluate")

	closed := realtimeEnvelope(t, testSeriesKey, minuteTick(3*minuteMs, 99, true))
	require.NoError(t, h.engine.handleRealtimeUpdate(context.Background(), closed))
	assert.Equal(t, 1, h.signals.count())
}

func TestEngineEachMinuteGating(t *testing.T) {
	rt := &alertRuntime{cfg: models.AlertConfig{TriggerType: models.TriggerEachMinute}}
	now := time.Date(2026, 8, 26, 12, 0, 30, 0, time.UTC)

	assert.True(t, triggerAdmits(rt, models.TriggerEachMinute, models.KlinePayload{}, now))
	assert.False(t, triggerAdmits(rt, models.TriggerEachMinute, models.KlinePayload{}, now.Add(10*time.Second)), "same minute")
	assert.True(t, triggerAdmits(rt, models.TriggerEachMinute, models.KlinePayload{}, now.Add(time.Minute)))
}

func TestEngineOnceOnlyRetiresAlert(t *testing.T) {
	cfg := stubAlert(models.SignalLong, models.TriggerOnceOnly)
	h := newEngineHarness(t, cfg)
	require.NoError(t, h.engine.Start(context.Background()))
	h.waitSeriesReady(t, testSeriesKey)

	env := realtimeEnvelope(t, testSeriesKey, minuteTick(3*minuteMs, 99, false))
	require.NoError(t, h.engine.handleRealtimeUpdate(context.Background(), env))

	assert.Equal(t, 1, h.signals.count(), "fires once")
	assert.Equal(t, []uuid.UUID{cfg.ID}, h.alerts.disabled)
	assert.Zero(t, h.engine.AlertCount())
	assert.Equal(t, []string{testSeriesKey}, h.subs.removed, "drained series released")
}

func TestEngineSkipsAlertWithBadParams(t *testing.T) {
	bad := stubAlert(models.SignalLong, models.TriggerEachKline)
	bad.Params = json.RawMessage(`{"broken":true}`)
	h := newEngineHarness(t, bad)

	require.NoError(t, h.engine.Start(context.Background()))
	assert.Zero(t, h.engine.AlertCount())
	assert.Empty(t, h.subs.added, "no subscription for an unusable alert")
}

func TestEngineAlertLifecycleEvents(t *testing.T) {
	h := newEngineHarness(t)
	require.NoError(t, h.engine.Start(context.Background()))
	assert.Zero(t, h.engine.AlertCount())

	cfg := stubAlert(models.SignalLong, models.TriggerEachKline)
	newEnv := alertEnvelope(t, events.ChannelAlertConfigNew, events.AlertConfigEvent{AlertConfig: cfg})
	require.NoError(t, h.engine.handleAlertNew(context.Background(), newEnv))
	assert.Equal(t, 1, h.engine.AlertCount())
	assert.Equal(t, []string{testSeriesKey}, h.subs.added)

	delEnv := alertEnvelope(t, events.ChannelAlertConfigDelete, events.AlertConfigEvent{AlertConfig: cfg})
	require.NoError(t, h.engine.handleAlertDelete(context.Background(), delEnv))
	assert.Zero(t, h.engine.AlertCount())
	assert.Equal(t, []string{testSeriesKey}, h.subs.removed)
}

func TestEngineUpdateInPlaceKeepsSeries(t *testing.T) {
	cfg := stubAlert(models.SignalLong, models.TriggerEachKline)
	h := newEngineHarness(t, cfg)
	require.NoError(t, h.engine.Start(context.Background()))
	require.Len(t, h.subs.added, 1)

	renamed := cfg
	renamed.Name = "renamed"
	upd := alertEnvelope(t, events.ChannelAlertConfigUpdate, events.AlertConfigEvent{
		AlertConfig: renamed,
		Old: &events.AlertConfigOld{
			Symbol:       cfg.Symbol,
			Interval:     cfg.Interval,
			StrategyType: cfg.StrategyType,
			TriggerType:  string(cfg.TriggerType),
			Params:       cfg.Params,
			Enabled:      true,
		},
	})
	require.NoError(t, h.engine.handleAlertUpdate(context.Background(), upd))

	assert.Len(t, h.subs.added, 1, "no resubscribe for a rename")
	h.engine.mu.Lock()
	assert.Equal(t, "renamed", h.engine.runtimes[cfg.ID].cfg.Name)
	h.engine.mu.Unlock()
}

func TestEngineUpdateSymbolRebuildsSeries(t *testing.T) {
	cfg := stubAlert(models.SignalLong, models.TriggerEachKline)
	h := newEngineHarness(t, cfg)
	require.NoError(t, h.engine.Start(context.Background()))

	moved := cfg
	moved.Symbol = "BINANCE:ETHUSDT"
	upd := alertEnvelope(t, events.ChannelAlertConfigUpdate, events.AlertConfigEvent{
		AlertConfig: moved,
		Old: &events.AlertConfigOld{
			Symbol:       cfg.Symbol,
			Interval:     cfg.Interval,
			StrategyType: cfg.StrategyType,
			TriggerType:  string(cfg.TriggerType),
			Params:       cfg.Params,
			Enabled:      true,
		},
	})
	require.NoError(t, h.engine.handleAlertUpdate(context.Background(), upd))

	assert.Equal(t, []string{testSeriesKey}, h.subs.removed, "old series released")
	assert.Equal(t, []string{testSeriesKey, "BINANCE:ETHUSDT@KLINE_1"}, h.subs.added)
}

func TestEngineDisableViaUpdateDropsAlert(t *testing.T) {
	cfg := stubAlert(models.SignalLong, models.TriggerEachKline)
	h := newEngineHarness(t, cfg)
	require.NoError(t, h.engine.Start(context.Background()))

	disabled := cfg
	disabled.Enabled = false
	upd := alertEnvelope(t, events.ChannelAlertConfigUpdate, events.AlertConfigEvent{AlertConfig: disabled})
	require.NoError(t, h.engine.handleAlertUpdate(context.Background(), upd))
	assert.Zero(t, h.engine.AlertCount())
}

func TestEngineIgnoresUnwatchedAndNonKlineUpdates(t *testing.T) {
	h := newEngineHarness(t, stubAlert(models.SignalLong, models.TriggerEachKline))
	require.NoError(t, h.engine.Start(context.Background()))
	h.waitSeriesReady(t, testSeriesKey)

	// Unknown series: nothing happens.
	env := realtimeEnvelope(t, "BINANCE:ETHUSDT@KLINE_1", minuteTick(3*minuteMs, 1, false))
	require.NoError(t, h.engine.handleRealtimeUpdate(context.Background(), env))

	// QUOTES updates are not for the engine.
	raw, err := json.Marshal(events.RealtimeEvent{SubscriptionKey: testSeriesKey, DataType: "QUOTES"})
	require.NoError(t, err)
	require.NoError(t, h.engine.handleRealtimeUpdate(context.Background(),
		events.Envelope{EventType: events.ChannelRealtimeUpdate, Data: raw}))

	assert.Zero(t, h.signals.count())
}

// blockingHistory parks RecentBars until released, so a test can hold a gap
// repair open mid-flight.
type blockingHistory struct {
	entered chan struct{}
	release chan []models.Bar
}

func (b *blockingHistory) RecentBars(ctx context.Context, _, _ string, _ int) ([]models.Bar, error) {
	b.entered <- struct{}{}
	select {
	case bars := <-b.release:
		return bars, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestEngineGapRepairBlocksEvaluation(t *testing.T) {
	h := newEngineHarness(t, stubAlert(models.SignalLong, models.TriggerEachKline))
	require.NoError(t, h.engine.Start(context.Background()))
	h.waitSeriesReady(t, testSeriesKey)

	bh := &blockingHistory{entered: make(chan struct{}), release: make(chan []models.Bar)}
	h.engine.filler.klines = bh

	// A tick far past the cache tail repairs inline, holding the series
	// lock across the history read.
	gapEnv := realtimeEnvelope(t, testSeriesKey, minuteTick(10*minuteMs, 50, false))
	done := make(chan error, 1)
	go func() {
		done <- h.engine.handleRealtimeUpdate(context.Background(), gapEnv)
	}()
	select {
	case <-bh.entered:
	case <-time.After(time.Second):
		t.Fatal("repair never reached the history read")
	}

	// A tick arriving mid-repair is skipped; it must not start a second
	// repair or evaluate against the gapped cache.
	mid := realtimeEnvelope(t, testSeriesKey, minuteTick(11*minuteMs, 51, false))
	require.NoError(t, h.engine.handleRealtimeUpdate(context.Background(), mid))
	select {
	case <-bh.entered:
		t.Fatal("skipped tick started another repair")
	default:
	}
	assert.Zero(t, h.signals.count(), "nothing evaluates before the repair returns")

	// History covering the gapped bucket arrives: the held tick re-applies
	// and evaluation resumes.
	bh.release <- minuteBars(8*minuteMs, 3)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.signals.count())
}

func TestEngineResyncDropsVanishedAlerts(t *testing.T) {
	cfg := stubAlert(models.SignalLong, models.TriggerEachKline)
	h := newEngineHarness(t, cfg)
	require.NoError(t, h.engine.Start(context.Background()))
	require.Equal(t, 1, h.engine.AlertCount())

	// The alert was disabled while notifications were down.
	h.alerts.mu.Lock()
	h.alerts.rows = nil
	h.alerts.mu.Unlock()

	require.NoError(t, h.engine.Resync(context.Background()))
	assert.Zero(t, h.engine.AlertCount())
	assert.Equal(t, []string{testSeriesKey}, h.subs.removed)
}
