// Package metrics defines the Prometheus collectors shared across services.
// Collectors register on the default registry; expose them by mounting
// Handler() on the service's HTTP mux.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Notification fabric.
var (
	NotifyDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickwire_notify_dispatched_total",
		Help: "Notifications handed to channel handlers.",
	}, []string{"channel"})

	NotifyDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickwire_notify_dropped_total",
		Help: "Notifications dropped before handling (decode failures, full queues).",
	}, []string{"channel", "reason"})

	NotifyReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickwire_notify_reconnects_total",
		Help: "LISTEN connection re-establishments.",
	})
)

// Gateway WebSocket fan-out.
var (
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tickwire_ws_clients",
		Help: "Currently connected WebSocket clients.",
	})

	ClientMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickwire_ws_messages_sent_total",
		Help: "Messages written to clients.",
	})

	ClientMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickwire_ws_messages_dropped_total",
		Help: "Messages dropped on full client buffers.",
	})

	ClientsDisconnectedSlow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickwire_ws_slow_disconnects_total",
		Help: "Clients disconnected for sustained slow consumption.",
	})
)

// Exchange worker.
var (
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickwire_tasks_processed_total",
		Help: "Tasks executed by the worker, by type and terminal status.",
	}, []string{"type", "status"})

	TicksWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickwire_ticks_written_total",
		Help: "Realtime payload writes, by data type.",
	}, []string{"data_type"})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickwire_upstream_reconnects_total",
		Help: "Upstream market stream re-establishments.",
	})

	StreamSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tickwire_upstream_streams",
		Help: "Streams currently subscribed on the upstream connection.",
	})
)

// Signal engine.
var (
	SignalEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickwire_signal_evaluations_total",
		Help: "Strategy evaluations, by strategy type.",
	}, []string{"strategy"})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickwire_signals_emitted_total",
		Help: "Non-none signals persisted, by strategy type and verdict.",
	}, []string{"strategy", "signal"})

	SignalFillTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickwire_signal_fill_tasks_total",
		Help: "History fill tasks issued by the signal engine.",
	})

	SignalUpdatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickwire_signal_updates_skipped_total",
		Help: "Realtime updates dropped because the series lock was held.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
