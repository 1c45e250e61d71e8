package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/models"
)

func TestDecodeRequest(t *testing.T) {
	raw := []byte(`{
		"protocolVersion": "2.0",
		"type": "GET_KLINES",
		"requestId": "r1",
		"data": {"symbol": "BINANCE:BTCUSDT", "interval": "60", "fromTime": 1000, "toTime": 2000}
	}`)

	req, werr := DecodeRequest(raw)
	require.Nil(t, werr)
	assert.Equal(t, TypeGetKlines, req.Type)
	assert.Equal(t, "r1", req.RequestID)

	klines, werr := req.Klines()
	require.Nil(t, werr)
	assert.Equal(t, "BINANCE:BTCUSDT", klines.Symbol)
	assert.Equal(t, "60", klines.Interval)
	assert.Equal(t, int64(1000), klines.FromTime)
	assert.Equal(t, int64(2000), klines.ToTime)
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCode ErrorCode
	}{
		{"malformed json", `{nope`, ErrCodeInvalidRequest},
		{"wrong version", `{"protocolVersion":"1.0","type":"GET_CONFIG","requestId":"r1"}`, ErrCodeUnsupportedProtocol},
		{"missing version", `{"type":"GET_CONFIG","requestId":"r1"}`, ErrCodeUnsupportedProtocol},
		{"unknown type", `{"protocolVersion":"2.0","type":"NOPE","requestId":"r1"}`, ErrCodeUnknownRequestType},
		{"missing type", `{"protocolVersion":"2.0","requestId":"r1"}`, ErrCodeInvalidRequest},
		{"missing request id", `{"protocolVersion":"2.0","type":"GET_CONFIG"}`, ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, werr := DecodeRequest([]byte(tt.raw))
			require.NotNil(t, werr)
			assert.Equal(t, tt.wantCode, werr.Code)
		})
	}
}

func TestDecodeRequestKeepsRequestIDOnVersionError(t *testing.T) {
	_, werr := DecodeRequest([]byte(`{"protocolVersion":"9.9","type":"GET_CONFIG","requestId":"r42"}`))
	require.NotNil(t, werr)
	assert.Equal(t, "r42", werr.RequestID)
}

func TestKlinesValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing symbol", `{"interval":"60","fromTime":1,"toTime":2}`},
		{"bad symbol", `{"symbol":"BTCUSDT","interval":"60","fromTime":1,"toTime":2}`},
		{"bad interval", `{"symbol":"BINANCE:BTCUSDT","interval":"7","fromTime":1,"toTime":2}`},
		{"inverted range", `{"symbol":"BINANCE:BTCUSDT","interval":"60","fromTime":2,"toTime":1}`},
		{"zero range", `{"symbol":"BINANCE:BTCUSDT","interval":"60"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{Type: TypeGetKlines, RequestID: "r1", Data: json.RawMessage(tt.data)}
			_, werr := req.Klines()
			require.NotNil(t, werr)
			assert.Equal(t, ErrCodeInvalidRequest, werr.Code)
		})
	}
}

func TestSubscriptionsValidation(t *testing.T) {
	req := &Request{Type: TypeSubscribe, RequestID: "r1", Data: json.RawMessage(
		`{"keys":["BINANCE:BTCUSDT@KLINE_60","SIGNAL:550e8400-e29b-41d4-a716-446655440000"]}`)}
	sub, werr := req.Subscriptions()
	require.Nil(t, werr)
	assert.Len(t, sub.Keys, 2)

	req = &Request{Type: TypeSubscribe, RequestID: "r1", Data: json.RawMessage(`{"keys":["garbage"]}`)}
	_, werr = req.Subscriptions()
	require.NotNil(t, werr)
	assert.Equal(t, ErrCodeInvalidSubscriptionKey, werr.Code)

	req = &Request{Type: TypeSubscribe, RequestID: "r1", Data: json.RawMessage(`{"keys":[]}`)}
	_, werr = req.Subscriptions()
	require.NotNil(t, werr)
	assert.Equal(t, ErrCodeInvalidRequest, werr.Code)
}

func TestCreateAlertValidation(t *testing.T) {
	valid := `{"name":"golden cross","strategyType":"ma_cross","symbol":"BINANCE:BTCUSDT",
		"interval":"60","triggerType":"each_kline_close","params":{"fastPeriod":50,"slowPeriod":200}}`
	req := &Request{Type: TypeCreateAlertConfig, RequestID: "r1", Data: json.RawMessage(valid)}
	create, werr := req.CreateAlert()
	require.Nil(t, werr)
	assert.Equal(t, "ma_cross", create.StrategyType)

	bad := `{"name":"x","strategyType":"ma_cross","symbol":"BINANCE:BTCUSDT","interval":"60","triggerType":"sometimes"}`
	req = &Request{Type: TypeCreateAlertConfig, RequestID: "r1", Data: json.RawMessage(bad)}
	_, werr = req.CreateAlert()
	require.NotNil(t, werr)
	assert.Equal(t, ErrCodeInvalidRequest, werr.Code)
}

func TestAckShape(t *testing.T) {
	msg := Ack("r1")
	raw, err := msg.Encode()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "2.0", got["protocolVersion"])
	assert.Equal(t, "ACK", got["type"])
	assert.Equal(t, "r1", got["requestId"])
	assert.NotZero(t, got["timestamp"])
}

func TestErrorShape(t *testing.T) {
	msg := ErrorWith("r9", ErrCodeTimeout, "no worker picked up task %d", 7)
	raw, err := msg.Encode()
	require.NoError(t, err)

	var got struct {
		Type string `json:"type"`
		Data struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		} `json:"data"`
		RequestID string `json:"requestId"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, TypeError, got.Type)
	assert.Equal(t, "TIMEOUT", got.Data.ErrorCode)
	assert.Contains(t, got.Data.ErrorMessage, "task 7")
	assert.Equal(t, "r9", got.RequestID)
}

func TestUpdateShape(t *testing.T) {
	content := json.RawMessage(`{"open_time":1718712000000,"is_closed":true,"close":42000.5}`)
	msg, err := Update("BINANCE:BTCUSDT@KLINE_60", "KLINE", 1718715599999, content)
	require.NoError(t, err)
	assert.Empty(t, msg.RequestID, "updates are unsolicited")

	raw, err := msg.Encode()
	require.NoError(t, err)
	var got struct {
		RequestID *string `json:"requestId"`
		Data      struct {
			SubscriptionKey string         `json:"subscriptionKey"`
			DataType        string         `json:"dataType"`
			EventTime       int64          `json:"eventTime"`
			Content         map[string]any `json:"content"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Nil(t, got.RequestID)
	assert.Equal(t, "BINANCE:BTCUSDT@KLINE_60", got.Data.SubscriptionKey)
	assert.Equal(t, "KLINE", got.Data.DataType)
	assert.Contains(t, got.Data.Content, "openTime")
	assert.Contains(t, got.Data.Content, "isClosed")
}

func TestKlinesDataShape(t *testing.T) {
	bars := []models.Bar{
		{OpenTime: 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{OpenTime: 2000, Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 20},
	}
	msg, err := KlinesData("r1", "BINANCE:BTCUSDT", "60", bars)
	require.NoError(t, err)

	raw, err := msg.Encode()
	require.NoError(t, err)
	var got struct {
		Data struct {
			Symbol string `json:"symbol"`
			Bars   []struct {
				Time  int64   `json:"time"`
				Close float64 `json:"close"`
			} `json:"bars"`
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 2, got.Data.Count)
	assert.Equal(t, int64(1000), got.Data.Bars[0].Time)
	assert.Equal(t, 2.5, got.Data.Bars[1].Close)
}

func TestSubscriptionDataNeverNull(t *testing.T) {
	msg, err := SubscriptionData("r1", nil)
	require.NoError(t, err)
	raw, err := msg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"subscriptions":[]`)
}
