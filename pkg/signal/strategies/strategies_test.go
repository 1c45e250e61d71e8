package strategies

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/models"
)

func barsFromCloses(closes ...float64) []models.Bar {
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{OpenTime: int64(i) * 60_000, Close: c}
	}
	return bars
}

func TestBuiltinCatalog(t *testing.T) {
	r := Builtin()
	var types []string
	for _, meta := range r.Descriptors() {
		types = append(types, meta.StrategyType)
	}
	assert.Equal(t, []string{"ma_cross", "price_threshold", "rsi_threshold"}, types)
}

func TestMACrossParamValidation(t *testing.T) {
	r := Builtin()

	_, err := r.New("ma_cross", json.RawMessage(`{"fast": 21, "slow": 9}`))
	assert.ErrorContains(t, err, "below slow period")

	_, err = r.New("ma_cross", json.RawMessage(`{"fast": 0}`))
	assert.ErrorContains(t, err, "out of range")

	_, err = r.New("ma_cross", nil)
	assert.NoError(t, err, "defaults apply without params")
}

func TestMACrossSignals(t *testing.T) {
	s, err := newMACross(json.RawMessage(`{"fast": 2, "slow": 3}`))
	require.NoError(t, err)

	// Downtrend flipping up on the last bar: fast SMA crosses above slow.
	v, err := s.Evaluate(barsFromCloses(10, 9, 8, 7, 12))
	require.NoError(t, err)
	assert.Equal(t, models.SignalLong, v.Signal)
	assert.Contains(t, v.Reason, "crossed above")

	// Uptrend flipping down: cross below.
	v, err = s.Evaluate(barsFromCloses(7, 8, 9, 10, 5))
	require.NoError(t, err)
	assert.Equal(t, models.SignalShort, v.Signal)

	// Steady trend: no cross.
	v, err = s.Evaluate(barsFromCloses(7, 8, 9, 10, 11))
	require.NoError(t, err)
	assert.Equal(t, models.SignalNone, v.Signal)

	// Window shorter than slow+1 stays silent.
	v, err = s.Evaluate(barsFromCloses(7, 8, 9))
	require.NoError(t, err)
	assert.Equal(t, models.SignalNone, v.Signal)
}

func TestRSIThresholdSignals(t *testing.T) {
	s, err := newRSIThreshold(json.RawMessage(`{"period": 3}`))
	require.NoError(t, err)

	// Monotonic rise means zero losses: RSI pegs at 100.
	v, err := s.Evaluate(barsFromCloses(1, 2, 3, 4, 5, 6))
	require.NoError(t, err)
	assert.Equal(t, models.SignalShort, v.Signal)
	assert.InDelta(t, 100.0, v.Metadata["rsi"], 0.01)

	// Monotonic fall pegs RSI at 0.
	v, err = s.Evaluate(barsFromCloses(6, 5, 4, 3, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, models.SignalLong, v.Signal)

	// Too few bars for the period.
	v, err = s.Evaluate(barsFromCloses(1, 2))
	require.NoError(t, err)
	assert.Equal(t, models.SignalNone, v.Signal)
}

func TestRSIThresholdParamValidation(t *testing.T) {
	_, err := newRSIThreshold(json.RawMessage(`{"oversold": 80, "overbought": 70}`))
	assert.ErrorContains(t, err, "bounds out of range")

	_, err = newRSIThreshold(json.RawMessage(`{"period": 1}`))
	assert.ErrorContains(t, err, "period")
}

func TestPriceThresholdSignals(t *testing.T) {
	s, err := newPriceThreshold(json.RawMessage(`{"upper": 100, "lower": 50}`))
	require.NoError(t, err)

	v, err := s.Evaluate(barsFromCloses(90, 101))
	require.NoError(t, err)
	assert.Equal(t, models.SignalLong, v.Signal)

	v, err = s.Evaluate(barsFromCloses(60, 49))
	require.NoError(t, err)
	assert.Equal(t, models.SignalShort, v.Signal)

	v, err = s.Evaluate(barsFromCloses(60, 75))
	require.NoError(t, err)
	assert.Equal(t, models.SignalNone, v.Signal)
}

func TestPriceThresholdParamValidation(t *testing.T) {
	_, err := newPriceThreshold(nil)
	assert.ErrorContains(t, err, "at least one")

	_, err = newPriceThreshold(json.RawMessage(`{"upper": 50, "lower": 100}`))
	assert.ErrorContains(t, err, "below upper")

	_, err = newPriceThreshold(json.RawMessage(`{"lower": 100}`))
	assert.NoError(t, err)
}

func TestRegistryUnknownType(t *testing.T) {
	_, err := Builtin().New("nope", nil)
	assert.ErrorContains(t, err, "unknown strategy type")
}
