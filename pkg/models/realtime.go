package models

import (
	"encoding/json"
	"time"
)

// Subscriber labels recorded in the realtime_data subscribers array. The
// array is the source of truth for upstream demand: a row exists while at
// least one service wants the key, and the exchange worker keeps the
// upstream stream set in lockstep with the rows.
const (
	SubscriberAPIService    = "api-service"
	SubscriberSignalService = "signal-service"
)

// RealtimeRow mirrors a realtime_data row.
type RealtimeRow struct {
	SubscriptionKey string          `json:"subscription_key"`
	DataType        string          `json:"data_type"`
	Data            json.RawMessage `json:"data"`
	EventTime       int64           `json:"event_time,omitempty"` // ms, exchange event time of last write
	Subscribers     []string        `json:"subscribers"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// KlinePayload is the canonical kline tick stored in realtime_data.data for
// KLINE keys. The archival trigger reads these fields to build
// klines_history rows, so names here and in the trigger must agree.
type KlinePayload struct {
	Symbol    string  `json:"symbol"`   // canonical EXCHANGE:SYMBOL[.SUFFIX]
	Interval  string  `json:"interval"` // TV notation
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsClosed  bool    `json:"is_closed"`
}

// Bar converts the tick into a history bar.
func (k KlinePayload) Bar() Bar {
	return Bar{
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
	}
}

// QuotePayload is the canonical 24h ticker stored for QUOTES keys.
type QuotePayload struct {
	Symbol        string  `json:"symbol"`
	Last          float64 `json:"last"`
	Bid           float64 `json:"bid,omitempty"`
	Ask           float64 `json:"ask,omitempty"`
	Open24h       float64 `json:"open_24h,omitempty"`
	High24h       float64 `json:"high_24h,omitempty"`
	Low24h        float64 `json:"low_24h,omitempty"`
	Volume24h     float64 `json:"volume_24h,omitempty"`
	PercentChange float64 `json:"percent_change,omitempty"`
}

// TradePayload is the canonical last-trade event stored for TRADE keys.
type TradePayload struct {
	Symbol    string  `json:"symbol"`
	TradeID   int64   `json:"trade_id"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	TradeTime int64   `json:"trade_time"`
	IsBuyer   bool    `json:"is_buyer_maker"`
}
