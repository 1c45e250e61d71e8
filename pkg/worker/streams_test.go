package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/exchange"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

type fakeStream struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	events       chan exchange.StreamEvent
	errs         chan error
	closed       bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan exchange.StreamEvent, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeStream) Subscribe(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, keys...)
	return nil
}

func (f *fakeStream) Unsubscribe(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, keys...)
	return nil
}

func (f *fakeStream) Events() <-chan exchange.StreamEvent { return f.events }
func (f *fakeStream) Errors() <-chan error                { return f.errs }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) subs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

type fakeOpener struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
	opened  []string
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{streams: make(map[string]*fakeStream)}
}

func (f *fakeOpener) OpenStream(_ context.Context, market string) (exchange.MarketStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := newFakeStream()
	f.streams[market] = st
	f.opened = append(f.opened, market)
	return st, nil
}

type fakeSink struct {
	mu      sync.Mutex
	rows    []models.RealtimeRow
	written map[string]int
	haveRow map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{written: make(map[string]int), haveRow: make(map[string]bool)}
}

func (f *fakeSink) UpdateData(_ context.Context, key string, _ any, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.haveRow[key] {
		return false, nil
	}
	f.written[key]++
	return true, nil
}

func (f *fakeSink) List(context.Context) ([]models.RealtimeRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, nil
}

func newTestManager(opener *fakeOpener, sink *fakeSink) *StreamManager {
	cfg := config.WorkerConfig{BatchWindow: config.Duration(time.Millisecond)}
	return NewStreamManager(opener, sink, cfg)
}

func TestStreamManagerAppliesCoalescedIntents(t *testing.T) {
	opener := newFakeOpener()
	mgr := newTestManager(opener, newFakeSink())

	mgr.enqueue("BINANCE:BTCUSDT@KLINE_60", true)
	mgr.enqueue("BINANCE:ETHUSDT@QUOTES", true)
	mgr.enqueue("BINANCE:BTCUSDT@KLINE_60", true) // duplicate is absorbed
	mgr.apply(context.Background())

	require.Contains(t, opener.streams, subkey.MarketSpot)
	assert.ElementsMatch(t,
		[]string{"BINANCE:BTCUSDT@KLINE_60", "BINANCE:ETHUSDT@QUOTES"},
		opener.streams[subkey.MarketSpot].subs())
}

func TestStreamManagerSplitsMarkets(t *testing.T) {
	opener := newFakeOpener()
	mgr := newTestManager(opener, newFakeSink())

	mgr.enqueue("BINANCE:BTCUSDT@KLINE_60", true)
	mgr.enqueue("BINANCE:BTCUSDT.P@KLINE_60", true)
	mgr.apply(context.Background())

	assert.ElementsMatch(t, []string{subkey.MarketSpot, subkey.MarketFutures}, opener.opened)
	assert.Equal(t, []string{"BINANCE:BTCUSDT@KLINE_60"}, opener.streams[subkey.MarketSpot].subs())
	assert.Equal(t, []string{"BINANCE:BTCUSDT.P@KLINE_60"}, opener.streams[subkey.MarketFutures].subs())
}

func TestStreamManagerSkipsUnstreamableKeys(t *testing.T) {
	opener := newFakeOpener()
	mgr := newTestManager(opener, newFakeSink())

	mgr.enqueue(subkey.SignalKey(uuid.New()), true)
	mgr.enqueue("BINANCE:ACCOUNT@ACCOUNT", true)
	mgr.enqueue("garbage", true)
	mgr.apply(context.Background())

	assert.Empty(t, opener.opened, "no upstream stream for unstreamable keys")
}

func TestStreamManagerUnsubscribesRemovedKeys(t *testing.T) {
	opener := newFakeOpener()
	mgr := newTestManager(opener, newFakeSink())

	key := "BINANCE:BTCUSDT@KLINE_60"
	mgr.enqueue(key, true)
	mgr.apply(context.Background())

	mgr.enqueue(key, false)
	mgr.apply(context.Background())

	assert.Equal(t, []string{key}, opener.streams[subkey.MarketSpot].unsubscribed)

	// Removing a key nobody holds is a no-op.
	mgr.enqueue(key, false)
	mgr.apply(context.Background())
	assert.Equal(t, []string{key}, opener.streams[subkey.MarketSpot].unsubscribed)
}

func TestStreamManagerRebuildFromTable(t *testing.T) {
	opener := newFakeOpener()
	sink := newFakeSink()
	sink.rows = []models.RealtimeRow{
		{SubscriptionKey: "BINANCE:BTCUSDT@KLINE_60", DataType: "KLINE"},
		{SubscriptionKey: "BINANCE:ETHUSDT@QUOTES", DataType: "QUOTES"},
		{SubscriptionKey: "BINANCE:ACCOUNT@ACCOUNT", DataType: "ACCOUNT"},
	}
	mgr := newTestManager(opener, sink)

	// Stale intent queued before the reset must be discarded by the rebuild.
	mgr.enqueue("BINANCE:XRPUSDT@QUOTES", true)
	mgr.Resync()
	mgr.apply(context.Background())

	require.Contains(t, opener.streams, subkey.MarketSpot)
	assert.ElementsMatch(t,
		[]string{"BINANCE:BTCUSDT@KLINE_60", "BINANCE:ETHUSDT@QUOTES"},
		opener.streams[subkey.MarketSpot].subs())
}

func TestStreamManagerOrphanTickQueuesRemoval(t *testing.T) {
	opener := newFakeOpener()
	sink := newFakeSink()
	mgr := newTestManager(opener, sink)

	key := "BINANCE:BTCUSDT@KLINE_60"
	sink.haveRow[key] = true
	mgr.enqueue(key, true)
	mgr.apply(context.Background())

	mgr.handleTick(context.Background(), exchange.StreamEvent{Key: key, DataType: "KLINE"})
	assert.Equal(t, 1, sink.written[key])

	// Row vanished: the next tick queues an unsubscribe.
	sink.mu.Lock()
	sink.haveRow[key] = false
	sink.mu.Unlock()
	mgr.handleTick(context.Background(), exchange.StreamEvent{Key: key, DataType: "KLINE"})

	mgr.apply(context.Background())
	assert.Equal(t, []string{key}, opener.streams[subkey.MarketSpot].unsubscribed)
}
