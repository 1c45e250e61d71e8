package models

// Bar is one klines_history row: a single OHLCV candle. Symbol and interval
// live on the query, not the struct, so series stay compact.
type Bar struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time,omitempty"`
}
