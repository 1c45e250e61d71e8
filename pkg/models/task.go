package models

import (
	"encoding/json"
	"time"
)

// TaskStatus tracks a task row through its lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskType identifies what an exchange worker should execute.
type TaskType string

const (
	TaskGetKlines         TaskType = "get_klines"
	TaskGetQuotes         TaskType = "get_quotes"
	TaskGetServerTime     TaskType = "get_server_time"
	TaskGetSpotAccount    TaskType = "get_spot_account"
	TaskGetFuturesAccount TaskType = "get_futures_account"
	TaskFetchExchangeInfo TaskType = "system.fetch_exchange_info"
)

// Task mirrors a tasks row. Payload and Result stay raw JSON: the row is a
// soft-schema mailbox between the gateway and workers.
type Task struct {
	ID        int64           `json:"id"`
	Type      TaskType        `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Result    json.RawMessage `json:"result,omitempty"`
	Status    TaskStatus      `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// KlinesTaskPayload carries a get_klines request.
type KlinesTaskPayload struct {
	Symbol    string `json:"symbol"`   // canonical EXCHANGE:SYMBOL[.SUFFIX]
	Interval  string `json:"interval"` // TV notation
	FromTime  int64  `json:"from_time,omitempty"`
	ToTime    int64  `json:"to_time,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// QuotesTaskPayload carries a get_quotes request.
type QuotesTaskPayload struct {
	Symbols    []string `json:"symbols"`
	MarketType string   `json:"market_type,omitempty"`
	RequestID  string   `json:"request_id,omitempty"`
}

// AccountTaskPayload carries get_spot_account / get_futures_account requests.
type AccountTaskPayload struct {
	RequestID string `json:"request_id,omitempty"`
}

// ExchangeInfoTaskPayload carries a system.fetch_exchange_info request.
// Empty Markets means refresh every market the adapter supports.
type ExchangeInfoTaskPayload struct {
	Markets []string `json:"markets,omitempty"`
}

// KlinesTaskResult summarizes bars persisted by a get_klines task. Bars
// themselves land in klines_history; readers query the table.
type KlinesTaskResult struct {
	Symbol        string `json:"symbol"`
	Interval      string `json:"interval"`
	Count         int    `json:"count"`
	FirstOpenTime int64  `json:"first_open_time,omitempty"`
	LastOpenTime  int64  `json:"last_open_time,omitempty"`
}

// ServerTimeResult is the get_server_time task result.
type ServerTimeResult struct {
	ServerTime int64 `json:"server_time"`
}

// AccountTaskResult is the get_*_account task result; the snapshot itself
// lands in account_info.
type AccountTaskResult struct {
	AccountType string `json:"account_type"`
	Updated     bool   `json:"updated"`
}

// ExchangeInfoTaskResult summarizes a system.fetch_exchange_info refresh.
type ExchangeInfoTaskResult struct {
	Markets []string `json:"markets"`
	Symbols int      `json:"symbols"`
}

// TaskError is the result shape of a failed task.
type TaskError struct {
	Error string `json:"error"`
}
