package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SignalValue is a strategy verdict. Only long/short verdicts are persisted;
// none means "nothing to say" and is dropped before the database.
type SignalValue string

const (
	SignalLong  SignalValue = "long"
	SignalShort SignalValue = "short"
	SignalNone  SignalValue = "none"
)

// StrategySignal mirrors a strategy_signals row. Inserting one fires the
// signal.new notification that reaches gateway subscribers.
type StrategySignal struct {
	ID           int64           `json:"id"`
	AlertID      uuid.UUID       `json:"alert_id"`
	StrategyType string          `json:"strategy_type"`
	Symbol       string          `json:"symbol"`
	Interval     string          `json:"interval"`
	TriggerType  TriggerType     `json:"trigger_type"`
	Signal       SignalValue     `json:"signal"`
	Reason       string          `json:"reason,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	ComputedAt   time.Time       `json:"computed_at"`
}
