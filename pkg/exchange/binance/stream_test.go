package binance

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

func testStream(market string) *marketStream {
	return &marketStream{
		exchangeName: "BINANCE",
		market:       market,
		log:          slog.Default(),
	}
}

func TestNormalizeKlineEvent(t *testing.T) {
	s := testStream(subkey.MarketSpot)
	frame := streamFrame{
		Stream: "btcusdt@kline_1m",
		Data: json.RawMessage(`{
			"E": 1700000000123,
			"k": {
				"t": 1700000000000, "T": 1700000059999,
				"s": "BTCUSDT", "i": "1m",
				"o": "100.5", "c": "101.25", "h": "102", "l": "99.75",
				"v": "12.5", "x": true
			}
		}`),
	}

	ev, err := s.normalize(frame)
	require.NoError(t, err)
	assert.Equal(t, "BINANCE:BTCUSDT@KLINE_1", ev.Key)
	assert.Equal(t, string(subkey.DataTypeKline), ev.DataType)
	assert.Equal(t, int64(1700000000123), ev.EventTime)

	payload, ok := ev.Data.(models.KlinePayload)
	require.True(t, ok)
	assert.Equal(t, "BINANCE:BTCUSDT", payload.Symbol)
	assert.Equal(t, "1", payload.Interval)
	assert.Equal(t, int64(1700000000000), payload.OpenTime)
	assert.Equal(t, 101.25, payload.Close)
	assert.Equal(t, 99.75, payload.Low)
	assert.Equal(t, 12.5, payload.Volume)
	assert.True(t, payload.IsClosed)
}

func TestNormalizeKlineEventFuturesSuffix(t *testing.T) {
	s := testStream(subkey.MarketFutures)
	frame := streamFrame{
		Stream: "btcusdt@kline_1h",
		Data: json.RawMessage(`{
			"E": 1, "k": {"t": 0, "T": 3599999, "s": "BTCUSDT", "i": "1h",
			"o": "1", "c": "1", "h": "1", "l": "1", "v": "0", "x": false}
		}`),
	}

	ev, err := s.normalize(frame)
	require.NoError(t, err)
	assert.Equal(t, "BINANCE:BTCUSDT.P@KLINE_60", ev.Key)
}

func TestNormalizeTradeEvent(t *testing.T) {
	s := testStream(subkey.MarketSpot)
	frame := streamFrame{
		Stream: "ethusdt@trade",
		Data: json.RawMessage(`{
			"E": 1700000000500, "s": "ETHUSDT", "t": 42,
			"p": "2000.5", "q": "0.25", "T": 1700000000499, "m": true
		}`),
	}

	ev, err := s.normalize(frame)
	require.NoError(t, err)
	assert.Equal(t, "BINANCE:ETHUSDT@TRADE", ev.Key)

	payload, ok := ev.Data.(models.TradePayload)
	require.True(t, ok)
	assert.Equal(t, int64(42), payload.TradeID)
	assert.Equal(t, 2000.5, payload.Price)
	assert.Equal(t, 0.25, payload.Quantity)
	assert.True(t, payload.IsBuyer)
}

func TestNormalizeRejectsMalformedFrames(t *testing.T) {
	s := testStream(subkey.MarketSpot)

	_, err := s.normalize(streamFrame{Stream: "noseparator", Data: json.RawMessage(`{}`)})
	assert.Error(t, err)

	_, err = s.normalize(streamFrame{Stream: "btcusdt@depth", Data: json.RawMessage(`{}`)})
	assert.Error(t, err)

	_, err = s.normalize(streamFrame{
		Stream: "btcusdt@kline_1m",
		Data:   json.RawMessage(`{"k": {"i": "1m", "o": "not-a-number"}}`),
	})
	assert.Error(t, err)
}
