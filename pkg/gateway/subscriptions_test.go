package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/subkey"
)

type fakeRealtimeStore struct {
	mu       sync.Mutex
	added    []string
	removed  []string
	scrubbed []string
	addErr   error
}

func (f *fakeRealtimeStore) AddSubscriber(_ context.Context, key, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, key)
	return nil
}

func (f *fakeRealtimeStore) RemoveSubscriber(_ context.Context, key, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	return true, nil
}

func (f *fakeRealtimeStore) ScrubSubscriber(_ context.Context, label string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrubbed = append(f.scrubbed, label)
	return 3, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
}

func (f *fakePublisher) Publish(_ context.Context, channel, _ string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	return nil
}

func TestSubscriptionManagerFirstAndLastSubscriber(t *testing.T) {
	ctx := context.Background()
	rt := &fakeRealtimeStore{}
	mgr := NewSubscriptionManager(rt, &fakePublisher{})

	a := uuid.New()
	b := uuid.New()
	key := "BINANCE:BTCUSDT@KLINE_60"

	require.NoError(t, mgr.Subscribe(ctx, a, []string{key}))
	require.NoError(t, mgr.Subscribe(ctx, b, []string{key}))

	// Only the first local subscriber touches the row.
	assert.Equal(t, []string{key}, rt.added)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, mgr.Subscribers(key))

	require.NoError(t, mgr.Unsubscribe(ctx, a, []string{key}))
	assert.Empty(t, rt.removed, "row kept while a subscriber remains")

	require.NoError(t, mgr.Unsubscribe(ctx, b, []string{key}))
	assert.Equal(t, []string{key}, rt.removed)
	assert.Empty(t, mgr.Subscribers(key))
}

func TestSubscriptionManagerCanonicalizesKeys(t *testing.T) {
	ctx := context.Background()
	rt := &fakeRealtimeStore{}
	mgr := NewSubscriptionManager(rt, &fakePublisher{})

	clientID := uuid.New()
	require.NoError(t, mgr.Subscribe(ctx, clientID, []string{"binance:btcusdt@kline_60"}))

	assert.Equal(t, []string{"BINANCE:BTCUSDT@KLINE_60"}, rt.added)
	assert.Equal(t, []string{"BINANCE:BTCUSDT@KLINE_60"}, mgr.Snapshot(clientID))
}

func TestSubscriptionManagerSignalKeysSkipStore(t *testing.T) {
	ctx := context.Background()
	rt := &fakeRealtimeStore{}
	mgr := NewSubscriptionManager(rt, &fakePublisher{})

	clientID := uuid.New()
	alertID := uuid.New()
	key := subkey.SignalKey(alertID)

	require.NoError(t, mgr.Subscribe(ctx, clientID, []string{key}))
	assert.Empty(t, rt.added, "signal keys never create realtime rows")
	assert.Equal(t, []uuid.UUID{clientID}, mgr.Subscribers(key))

	require.NoError(t, mgr.Unsubscribe(ctx, clientID, []string{key}))
	assert.Empty(t, rt.removed)
}

func TestSubscriptionManagerRejectsInvalidKey(t *testing.T) {
	mgr := NewSubscriptionManager(&fakeRealtimeStore{}, &fakePublisher{})
	err := mgr.Subscribe(context.Background(), uuid.New(), []string{"garbage"})
	require.Error(t, err)
}

func TestSubscriptionManagerRollsBackOnStoreError(t *testing.T) {
	ctx := context.Background()
	rt := &fakeRealtimeStore{addErr: errors.New("db down")}
	mgr := NewSubscriptionManager(rt, &fakePublisher{})

	clientID := uuid.New()
	err := mgr.Subscribe(ctx, clientID, []string{"BINANCE:BTCUSDT@QUOTES"})
	require.Error(t, err)

	// Map entry was rolled back so a retry re-attempts the row write.
	assert.Empty(t, mgr.Snapshot(clientID))
	assert.Empty(t, mgr.Subscribers("BINANCE:BTCUSDT@QUOTES"))
}

func TestSubscriptionManagerDropClient(t *testing.T) {
	ctx := context.Background()
	rt := &fakeRealtimeStore{}
	mgr := NewSubscriptionManager(rt, &fakePublisher{})

	a := uuid.New()
	b := uuid.New()
	shared := "BINANCE:BTCUSDT@KLINE_60"
	solo := "BINANCE:ETHUSDT@QUOTES"
	sig := subkey.SignalKey(uuid.New())

	require.NoError(t, mgr.Subscribe(ctx, a, []string{shared, solo, sig}))
	require.NoError(t, mgr.Subscribe(ctx, b, []string{shared}))

	mgr.DropClient(ctx, a)

	// Only the key a held alone is released; the signal key never had a row.
	assert.Equal(t, []string{solo}, rt.removed)
	assert.Empty(t, mgr.Snapshot(a))
	assert.ElementsMatch(t, []uuid.UUID{b}, mgr.Subscribers(shared))
}

func TestSubscriptionManagerStartupScrub(t *testing.T) {
	rt := &fakeRealtimeStore{}
	pub := &fakePublisher{}
	mgr := NewSubscriptionManager(rt, pub)

	require.NoError(t, mgr.StartupScrub(context.Background()))
	assert.Equal(t, []string{"api-service"}, rt.scrubbed)
	assert.Equal(t, []string{events.ChannelSubscriptionClean}, pub.channels)
}

func TestSubscriptionManagerSnapshotSorted(t *testing.T) {
	ctx := context.Background()
	mgr := NewSubscriptionManager(&fakeRealtimeStore{}, &fakePublisher{})

	clientID := uuid.New()
	keys := []string{"BINANCE:ETHUSDT@QUOTES", "BINANCE:BTCUSDT@KLINE_60", "BINANCE:ADAUSDT@TRADE"}
	require.NoError(t, mgr.Subscribe(ctx, clientID, keys))

	assert.Equal(t, []string{
		"BINANCE:ADAUSDT@TRADE",
		"BINANCE:BTCUSDT@KLINE_60",
		"BINANCE:ETHUSDT@QUOTES",
	}, mgr.Snapshot(clientID))
}
