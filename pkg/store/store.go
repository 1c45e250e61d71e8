// Package store provides the SQL access layer. One small repository per
// table, all raw pgx: payload columns are JSONB mailboxes whose shapes the
// services own, so an ORM would only get in the way here. Writes that must
// notify (tasks, realtime_data, alert_configs, strategy_signals) rely on the
// table triggers installed by the migrations.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store bundles the per-table repositories over one shared pool.
type Store struct {
	Tasks        *TaskStore
	Realtime     *RealtimeStore
	Klines       *KlineStore
	Alerts       *AlertStore
	Signals      *SignalStore
	ExchangeInfo *ExchangeInfoStore
	Accounts     *AccountStore
	Metadata     *StrategyMetadataStore
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Tasks:        &TaskStore{pool: pool},
		Realtime:     &RealtimeStore{pool: pool},
		Klines:       &KlineStore{pool: pool},
		Alerts:       &AlertStore{pool: pool},
		Signals:      &SignalStore{pool: pool},
		ExchangeInfo: &ExchangeInfoStore{pool: pool},
		Accounts:     &AccountStore{pool: pool},
		Metadata:     &StrategyMetadataStore{pool: pool},
	}
}
