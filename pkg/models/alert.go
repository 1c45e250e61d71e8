package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TriggerType controls when an alert's strategy is evaluated against the
// kline flow.
type TriggerType string

const (
	// TriggerOnceOnly evaluates a single time, then the alert disables itself.
	TriggerOnceOnly TriggerType = "once_only"
	// TriggerEachKline evaluates on every accepted tick, open or closed.
	TriggerEachKline TriggerType = "each_kline"
	// TriggerEachKlineClose evaluates only when a bar closes.
	TriggerEachKlineClose TriggerType = "each_kline_close"
	// TriggerEachMinute evaluates at most once per wall-clock UTC minute.
	TriggerEachMinute TriggerType = "each_minute"
)

// ValidTriggerType reports whether t is a known trigger type.
func ValidTriggerType(t TriggerType) bool {
	switch t {
	case TriggerOnceOnly, TriggerEachKline, TriggerEachKlineClose, TriggerEachMinute:
		return true
	}
	return false
}

// AlertConfig mirrors an alert_configs row: one configured strategy instance
// watching one symbol/interval series.
type AlertConfig struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	StrategyType string          `json:"strategy_type"`
	Symbol       string          `json:"symbol"`   // canonical EXCHANGE:SYMBOL[.SUFFIX]
	Interval     string          `json:"interval"` // TV notation
	TriggerType  TriggerType     `json:"trigger_type"`
	Params       json.RawMessage `json:"params"`
	Enabled      bool            `json:"is_enabled"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AlertConfigUpdate carries a partial alert update; nil fields are left
// untouched.
type AlertConfigUpdate struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Symbol      *string          `json:"symbol,omitempty"`
	Interval    *string          `json:"interval,omitempty"`
	TriggerType *TriggerType     `json:"trigger_type,omitempty"`
	Params      *json.RawMessage `json:"params,omitempty"`
	Enabled     *bool            `json:"is_enabled,omitempty"`
}

// ParamSpec describes one strategy parameter for metadata listings.
type ParamSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // int, float, string
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Description string   `json:"description,omitempty"`
}

// StrategyMetadata mirrors an alert_strategy_metadata row: the catalog entry
// clients read to build alert-creation forms.
type StrategyMetadata struct {
	StrategyType string      `json:"strategy_type"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Params       []ParamSpec `json:"params"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
