// Package events is the PostgreSQL LISTEN/NOTIFY fabric: the listener owns
// a dedicated connection, the dispatcher fans decoded envelopes out to
// handlers on bounded per-channel queues, and the publisher emits
// service-originated events through pg_notify.
//
// Notifications are fire-and-forget. Anything delivered while a consumer
// was disconnected is gone; consumers reconcile from table state in their
// OnReconnect hooks.
package events

import (
	"encoding/json"

	"github.com/tickwire/tickwire/pkg/models"
)

// Notification channels. Names match the trigger layer; LISTEN quoting is
// handled by the listener, so the dots are fine.
const (
	ChannelTaskNew       = "task.new"
	ChannelTaskCompleted = "task.completed"
	ChannelTaskFailed    = "task.failed"

	ChannelSubscriptionAdd    = "subscription.add"
	ChannelSubscriptionRemove = "subscription.remove"
	ChannelSubscriptionClean  = "subscription.clean"

	ChannelRealtimeUpdate = "realtime.update"

	ChannelSignalNew = "signal.new"

	ChannelAlertConfigNew    = "alert_config.new"
	ChannelAlertConfigUpdate = "alert_config.update"
	ChannelAlertConfigDelete = "alert_config.delete"
)

// TaskEvent is the data payload on task.new / task.completed / task.failed.
// On truncated envelopes only ID, Type and Status survive; re-read the row.
type TaskEvent struct {
	ID      int64           `json:"id"`
	Type    models.TaskType `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Status  string          `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SubscriptionEvent is the data payload on subscription.add /
// subscription.remove / subscription.clean.
type SubscriptionEvent struct {
	SubscriptionKey string   `json:"subscription_key,omitempty"`
	DataType        string   `json:"data_type,omitempty"`
	Subscribers     []string `json:"subscribers,omitempty"`
	Action          string   `json:"action,omitempty"` // "clean_all" on subscription.clean
}

// CleanAll is the subscription.clean action requesting a full upstream
// stream reset.
const CleanAll = "clean_all"

// RealtimeEvent is the data payload on realtime.update.
type RealtimeEvent struct {
	SubscriptionKey string          `json:"subscription_key"`
	DataType        string          `json:"data_type"`
	Data            json.RawMessage `json:"data,omitempty"`
	EventTime       int64           `json:"event_time,omitempty"`
}

// AlertConfigOld carries the pre-update values the signal engine needs to
// decide between in-place apply and teardown/rebuild.
type AlertConfigOld struct {
	Symbol       string          `json:"symbol"`
	Interval     string          `json:"interval"`
	StrategyType string          `json:"strategy_type"`
	TriggerType  string          `json:"trigger_type"`
	Params       json.RawMessage `json:"params,omitempty"`
	Enabled      bool            `json:"is_enabled"`
}

// AlertConfigEvent is the data payload on alert_config.new / .update /
// .delete: the row snapshot plus, on updates, the old values.
type AlertConfigEvent struct {
	models.AlertConfig
	Old *AlertConfigOld `json:"old,omitempty"`
}
