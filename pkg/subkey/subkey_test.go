package subkey

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Key
	}{
		{
			name: "kline with minute interval",
			raw:  "BINANCE:BTCUSDT@KLINE_60",
			want: Key{Exchange: "BINANCE", Symbol: "BTCUSDT", DataType: DataTypeKline, Interval: "60"},
		},
		{
			name: "perpetual suffix with daily interval",
			raw:  "BINANCE:BTCUSDT.P@KLINE_D",
			want: Key{Exchange: "BINANCE", Symbol: "BTCUSDT", Suffix: "P", DataType: DataTypeKline, Interval: "D"},
		},
		{
			name: "quotes without interval",
			raw:  "BINANCE:ETHUSDT@QUOTES",
			want: Key{Exchange: "BINANCE", Symbol: "ETHUSDT", DataType: DataTypeQuotes},
		},
		{
			name: "trade stream",
			raw:  "BINANCE:SOLUSDT@TRADE",
			want: Key{Exchange: "BINANCE", Symbol: "SOLUSDT", DataType: DataTypeTrade},
		},
		{
			name: "account stream",
			raw:  "BINANCE:ACCOUNT@ACCOUNT",
			want: Key{Exchange: "BINANCE", Symbol: "ACCOUNT", DataType: DataTypeAccount},
		},
		{
			name: "lowercase input normalized",
			raw:  "binance:btcusdt@kline_d",
			want: Key{Exchange: "BINANCE", Symbol: "BTCUSDT", DataType: DataTypeKline, Interval: "D"},
		},
		{
			name: "three-day interval",
			raw:  "BINANCE:BTCUSDT@KLINE_3D",
			want: Key{Exchange: "BINANCE", Symbol: "BTCUSDT", DataType: DataTypeKline, Interval: "3D"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing at", "BINANCE:BTCUSDT"},
		{"missing colon", "BTCUSDT@KLINE_60"},
		{"empty exchange", ":BTCUSDT@KLINE_60"},
		{"empty symbol", "BINANCE:@KLINE_60"},
		{"kline without interval", "BINANCE:BTCUSDT@KLINE"},
		{"unknown interval", "BINANCE:BTCUSDT@KLINE_7"},
		{"quotes with interval", "BINANCE:BTCUSDT@QUOTES_60"},
		{"unknown data type", "BINANCE:BTCUSDT@DEPTH"},
		{"signal key rejected", "SIGNAL:550e8400-e29b-41d4-a716-446655440000"},
		{"empty string", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestKeyStringRoundTrip(t *testing.T) {
	for _, raw := range []string{
		"BINANCE:BTCUSDT@KLINE_60",
		"BINANCE:BTCUSDT.P@KLINE_D",
		"BINANCE:ETHUSDT@QUOTES",
		"BINANCE:ACCOUNT@ACCOUNT",
	} {
		k, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, k.String())
	}
}

func TestCanonicalSymbolAndMarketType(t *testing.T) {
	spot, err := Parse("BINANCE:BTCUSDT@KLINE_60")
	require.NoError(t, err)
	assert.Equal(t, "BINANCE:BTCUSDT", spot.CanonicalSymbol())
	assert.Equal(t, MarketSpot, spot.MarketType())

	perp, err := Parse("BINANCE:BTCUSDT.P@KLINE_60")
	require.NoError(t, err)
	assert.Equal(t, "BINANCE:BTCUSDT.P", perp.CanonicalSymbol())
	assert.Equal(t, MarketFutures, perp.MarketType())
}

func TestSignalKeys(t *testing.T) {
	id := uuid.New()
	key := SignalKey(id)

	assert.True(t, IsSignalKey(key))
	assert.False(t, IsSignalKey("BINANCE:BTCUSDT@KLINE_60"))

	got, err := ParseSignalKey(key)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseSignalKey("SIGNAL:not-a-uuid")
	assert.Error(t, err)
	_, err = ParseSignalKey("BINANCE:BTCUSDT@QUOTES")
	assert.Error(t, err)
}

func TestSplitCanonicalSymbol(t *testing.T) {
	ex, sym, suffix, err := SplitCanonicalSymbol("BINANCE:BTCUSDT.P")
	require.NoError(t, err)
	assert.Equal(t, "BINANCE", ex)
	assert.Equal(t, "BTCUSDT", sym)
	assert.Equal(t, "P", suffix)

	_, _, _, err = SplitCanonicalSymbol("BTCUSDT")
	assert.Error(t, err)
}

func TestIntervalMillis(t *testing.T) {
	ms, ok := IntervalMillis("60")
	require.True(t, ok)
	assert.Equal(t, time.Hour.Milliseconds(), ms)

	ms, ok = IntervalMillis("D")
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour.Milliseconds(), ms)

	_, ok = IntervalMillis("M")
	assert.False(t, ok, "monthly bars are calendar stepped")
}

func TestNextOpenTime(t *testing.T) {
	base := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC).UnixMilli()

	assert.Equal(t, base+time.Hour.Milliseconds(), NextOpenTime(base, "60"))
	assert.Equal(t, base+24*time.Hour.Milliseconds(), NextOpenTime(base, "D"))

	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, feb, NextOpenTime(jan, "M"))
}

func TestAlignOpenTime(t *testing.T) {
	ts := time.Date(2025, 6, 18, 14, 37, 22, 0, time.UTC) // a Wednesday

	assert.Equal(t,
		time.Date(2025, 6, 18, 14, 0, 0, 0, time.UTC).UnixMilli(),
		AlignOpenTime(ts.UnixMilli(), "60"))
	assert.Equal(t,
		time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC).UnixMilli(),
		AlignOpenTime(ts.UnixMilli(), "D"))
	assert.Equal(t,
		time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC).UnixMilli(),
		AlignOpenTime(ts.UnixMilli(), "W"), "weeks start Monday")
	assert.Equal(t,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		AlignOpenTime(ts.UnixMilli(), "M"))

	// Aligning an already-aligned open time is a no-op.
	aligned := AlignOpenTime(ts.UnixMilli(), "240")
	assert.Equal(t, aligned, AlignOpenTime(aligned, "240"))
}

func TestIntervalTranslation(t *testing.T) {
	pairs := map[string]string{
		"1": "1m", "3": "3m", "5": "5m", "15": "15m", "30": "30m",
		"60": "1h", "120": "2h", "240": "4h", "360": "6h", "480": "8h", "720": "12h",
		"D": "1d", "3D": "3d", "W": "1w", "M": "1M",
	}
	for tv, native := range pairs {
		gotNative, err := NativeInterval(tv)
		require.NoError(t, err)
		assert.Equal(t, native, gotNative)

		gotTV, err := TVInterval(native)
		require.NoError(t, err)
		assert.Equal(t, tv, gotTV)
	}

	// TV notation passes through TVInterval unchanged.
	tv, err := TVInterval("60")
	require.NoError(t, err)
	assert.Equal(t, "60", tv)

	_, err = NativeInterval("2")
	assert.Error(t, err)
	_, err = TVInterval("13m")
	assert.Error(t, err)
}
