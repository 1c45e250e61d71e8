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

func spotSymbols() []models.SymbolInfo {
	return []models.SymbolInfo{
		{Exchange: "BINANCE", MarketType: "SPOT", Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "TRADING", PricePrecision: 2, QtyPrecision: 5},
		{Exchange: "BINANCE", MarketType: "SPOT", Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", Status: "TRADING", PricePrecision: 2, QtyPrecision: 4},
		{Exchange: "BINANCE", MarketType: "SPOT", Symbol: "DOGEUSDT", BaseAsset: "DOGE", QuoteAsset: "USDT", Status: "TRADING", PricePrecision: 5, QtyPrecision: 0},
	}
}

func TestReplaceMarket(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	s := New(client.Pool())

	require.NoError(t, s.ExchangeInfo.ReplaceMarket(ctx, "BINANCE", "SPOT", spotSymbols()))

	n, err := s.ExchangeInfo.Count(ctx, "BINANCE", "SPOT")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Refresh without DOGE: the delisted symbol must vanish.
	require.NoError(t, s.ExchangeInfo.ReplaceMarket(ctx, "BINANCE", "SPOT", spotSymbols()[:2]))

	n, err = s.ExchangeInfo.Count(ctx, "BINANCE", "SPOT")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.ExchangeInfo.Get(ctx, "BINANCE", "SPOT", "DOGEUSDT")
	assert.ErrorIs(t, err, ErrNotFound)

	// Another market is untouched by the replace.
	futures := []models.SymbolInfo{
		{Exchange: "BINANCE", MarketType: "FUTURES", Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "TRADING",
			Filters: json.RawMessage(`{"tick_size": "0.10"}`)},
	}
	require.NoError(t, s.ExchangeInfo.ReplaceMarket(ctx, "BINANCE", "FUTURES", futures))
	require.NoError(t, s.ExchangeInfo.ReplaceMarket(ctx, "BINANCE", "SPOT", spotSymbols()[:1]))

	info, err := s.ExchangeInfo.Get(ctx, "BINANCE", "FUTURES", "BTCUSDT")
	require.NoError(t, err)
	assert.JSONEq(t, `{"tick_size": "0.10"}`, string(info.Filters))
}

func TestSymbolSearch(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	s := New(client.Pool())

	require.NoError(t, s.ExchangeInfo.ReplaceMarket(ctx, "BINANCE", "SPOT", spotSymbols()))
	require.NoError(t, s.ExchangeInfo.ReplaceMarket(ctx, "BINANCE", "FUTURES", []models.SymbolInfo{
		{Exchange: "BINANCE", MarketType: "FUTURES", Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "TRADING"},
	}))

	// Case-insensitive substring match on symbol or base asset.
	hits, err := s.ExchangeInfo.Search(ctx, "btc", "", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.ExchangeInfo.Search(ctx, "btc", "FUTURES", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "FUTURES", hits[0].MarketType)

	hits, err = s.ExchangeInfo.Search(ctx, "doge", "", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "DOGEUSDT", hits[0].Symbol)

	hits, err = s.ExchangeInfo.Search(ctx, "usdt", "SPOT", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.ExchangeInfo.Search(ctx, "nosuch", "", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
