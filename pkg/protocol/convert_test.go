package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnakeToCamel(t *testing.T) {
	tests := map[string]string{
		"symbol":                "symbol",
		"open_time":             "openTime",
		"is_closed":             "isClosed",
		"supported_resolutions": "supportedResolutions",
		"high_24h":              "high24h",
		"alreadyCamel":          "alreadyCamel",
		"a_b_c":                 "aBC",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeToCamel(in), "input %q", in)
	}
}

func TestCamelToSnake(t *testing.T) {
	tests := map[string]string{
		"symbol":        "symbol",
		"openTime":      "open_time",
		"isClosed":      "is_closed",
		"fromTime":      "from_time",
		"requestID":     "request_id",
		"fastPeriod":    "fast_period",
		"already_snake": "already_snake",
	}
	for in, want := range tests {
		assert.Equal(t, want, CamelToSnake(in), "input %q", in)
	}
}

func TestCamelizeJSONNested(t *testing.T) {
	in := json.RawMessage(`{
		"subscription_key": "BINANCE:BTCUSDT@KLINE_60",
		"content": {
			"open_time": 1718712000000,
			"is_closed": false,
			"nested_list": [{"trade_id": 42}]
		}
	}`)

	out, err := CamelizeJSON(in)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Contains(t, got, "subscriptionKey")
	content, ok := got["content"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, content, "openTime")
	assert.Contains(t, content, "isClosed")
	list, ok := content["nestedList"].([]any)
	require.True(t, ok)
	assert.Contains(t, list[0], "tradeId")
}

func TestCamelizeJSONPreservesLargeNumbers(t *testing.T) {
	in := json.RawMessage(`{"open_time": 1718712000000, "price": 0.00001234}`)
	out, err := CamelizeJSON(in)
	require.NoError(t, err)
	assert.Contains(t, string(out), "1718712000000")
	assert.Contains(t, string(out), "0.00001234")
}

func TestSnakeizeJSON(t *testing.T) {
	in := json.RawMessage(`{"fastPeriod": 9, "slowPeriod": 26}`)
	out, err := SnakeizeJSON(in)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Contains(t, got, "fast_period")
	assert.Contains(t, got, "slow_period")
}

func TestRewriteEmptyPayload(t *testing.T) {
	out, err := CamelizeJSON(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
