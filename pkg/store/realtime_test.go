package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/models"
	testdb "github.com/tickwire/tickwire/test/database"
)

func TestSubscriberBookkeeping(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	s := New(client.Pool())

	key := "BINANCE:BTCUSDT@KLINE_60"

	require.NoError(t, s.Realtime.AddSubscriber(ctx, key, "KLINE", models.SubscriberAPIService))

	row, err := s.Realtime.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "KLINE", row.DataType)
	assert.Equal(t, []string{models.SubscriberAPIService}, row.Subscribers)

	// Same label again is a no-op, a second label appends.
	require.NoError(t, s.Realtime.AddSubscriber(ctx, key, "KLINE", models.SubscriberAPIService))
	require.NoError(t, s.Realtime.AddSubscriber(ctx, key, "KLINE", models.SubscriberSignalService))

	row, err = s.Realtime.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{models.SubscriberAPIService, models.SubscriberSignalService}, row.Subscribers)

	// Removing one label keeps the row.
	deleted, err := s.Realtime.RemoveSubscriber(ctx, key, models.SubscriberAPIService)
	require.NoError(t, err)
	assert.False(t, deleted)

	row, err = s.Realtime.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{models.SubscriberSignalService}, row.Subscribers)

	// Removing the last label deletes the row: empty arrays never persist.
	deleted, err = s.Realtime.RemoveSubscriber(ctx, key, models.SubscriberSignalService)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Realtime.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Removing from a missing row is quiet.
	deleted, err = s.Realtime.RemoveSubscriber(ctx, key, models.SubscriberAPIService)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUpdateData(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	s := New(client.Pool())

	key := "BINANCE:ETHUSDT@QUOTES"
	require.NoError(t, s.Realtime.AddSubscriber(ctx, key, "QUOTES", models.SubscriberAPIService))

	ok, err := s.Realtime.UpdateData(ctx, key, models.QuotePayload{Symbol: "BINANCE:ETHUSDT", Last: 3141.5}, 1718700000000)
	require.NoError(t, err)
	assert.True(t, ok)

	row, err := s.Realtime.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1718700000000), row.EventTime)

	var quote models.QuotePayload
	require.NoError(t, json.Unmarshal(row.Data, &quote))
	assert.Equal(t, 3141.5, quote.Last)

	// No row means the stream is orphaned; the caller gets false, not an error.
	ok, err = s.Realtime.UpdateData(ctx, "BINANCE:GONEUSDT@QUOTES", models.QuotePayload{}, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListBySubscriberAndScrub(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	s := New(client.Pool())

	require.NoError(t, s.Realtime.AddSubscriber(ctx, "BINANCE:BTCUSDT@KLINE_1", "KLINE", models.SubscriberAPIService))
	require.NoError(t, s.Realtime.AddSubscriber(ctx, "BINANCE:BTCUSDT@KLINE_1", "KLINE", models.SubscriberSignalService))
	require.NoError(t, s.Realtime.AddSubscriber(ctx, "BINANCE:ETHUSDT@TRADE", "TRADE", models.SubscriberAPIService))

	apiRows, err := s.Realtime.ListBySubscriber(ctx, models.SubscriberAPIService)
	require.NoError(t, err)
	assert.Len(t, apiRows, 2)

	all, err := s.Realtime.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Scrubbing api-service drops its exclusive row and its label elsewhere.
	deleted, err := s.Realtime.ScrubSubscriber(ctx, models.SubscriberAPIService)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	all, err = s.Realtime.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "BINANCE:BTCUSDT@KLINE_1", all[0].SubscriptionKey)
	assert.Equal(t, []string{models.SubscriberSignalService}, all[0].Subscribers)
}

// Closed KLINE ticks must land in klines_history through the archival
// trigger, no matter which service wrote the tick.
func TestClosedKlineIsArchived(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	s := New(client.Pool())

	key := "BINANCE:BTCUSDT@KLINE_60"
	require.NoError(t, s.Realtime.AddSubscriber(ctx, key, "KLINE", models.SubscriberAPIService))

	openBar := models.KlinePayload{
		Symbol: "BINANCE:BTCUSDT", Interval: "60",
		OpenTime: 1718700000000, CloseTime: 1718703599999,
		Open: 65000, High: 65900, Low: 64800, Close: 65500, Volume: 120.5,
		IsClosed: false,
	}
	ok, err := s.Realtime.UpdateData(ctx, key, openBar, openBar.CloseTime)
	require.NoError(t, err)
	require.True(t, ok)

	// Open bars stay out of history.
	exists, err := s.Klines.HasBar(ctx, "BINANCE:BTCUSDT", "60", openBar.OpenTime)
	require.NoError(t, err)
	assert.False(t, exists)

	closedBar := openBar
	closedBar.Close = 65750
	closedBar.IsClosed = true
	ok, err = s.Realtime.UpdateData(ctx, key, closedBar, closedBar.CloseTime)
	require.NoError(t, err)
	require.True(t, ok)

	bars, err := s.Klines.Range(ctx, "BINANCE:BTCUSDT", "60", 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, openBar.OpenTime, bars[0].OpenTime)
	assert.Equal(t, 65750.0, bars[0].Close)
	assert.Equal(t, 120.5, bars[0].Volume)
}
