package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickwire/tickwire/pkg/models"
)

// RealtimeStore manages realtime_data, the live-subscription registry. Row
// creation fires subscription.add, row deletion subscription.remove, and
// data writes realtime.update; the subscribers array carries which services
// still want the key.
type RealtimeStore struct {
	pool *pgxpool.Pool
}

// AddSubscriber ensures a row for key exists and carries the label. Creating
// the row notifies the exchange worker to open the upstream stream; adding a
// label to a live row is silent because the stream already runs.
func (s *RealtimeStore) AddSubscriber(ctx context.Context, key, dataType, label string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO realtime_data (subscription_key, data_type, subscribers)
		VALUES ($1, $2, ARRAY[$3])
		ON CONFLICT (subscription_key) DO UPDATE
		SET subscribers = CASE
			WHEN $3 = ANY (realtime_data.subscribers) THEN realtime_data.subscribers
			ELSE array_append(realtime_data.subscribers, $3)
		END
	`, key, dataType, label)
	if err != nil {
		return fmt.Errorf("add subscriber %s to %s: %w", label, key, err)
	}
	return nil
}

// RemoveSubscriber drops the label from the key's row and deletes the row
// when no subscribers remain. Returns true when the row was deleted.
func (s *RealtimeStore) RemoveSubscriber(ctx context.Context, key, label string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin remove subscriber: %w", err)
	}
	defer tx.Rollback(ctx)

	var remaining []string
	err = tx.QueryRow(ctx, `
		UPDATE realtime_data SET subscribers = array_remove(subscribers, $2)
		WHERE subscription_key = $1
		RETURNING subscribers
	`, key, label).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove subscriber %s from %s: %w", label, key, err)
	}

	deleted := false
	if len(remaining) == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM realtime_data WHERE subscription_key = $1`, key); err != nil {
			return false, fmt.Errorf("delete drained key %s: %w", key, err)
		}
		deleted = true
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit remove subscriber: %w", err)
	}
	return deleted, nil
}

// UpdateData writes a tick into the key's row. Returns false when no row
// exists, which tells the worker the upstream stream is orphaned.
func (s *RealtimeStore) UpdateData(ctx context.Context, key string, data any, eventTime int64) (bool, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("marshal tick data: %w", err)
	}

	ct, err := s.pool.Exec(ctx, `
		UPDATE realtime_data SET data = $2, event_time = $3
		WHERE subscription_key = $1
	`, key, raw, eventTime)
	if err != nil {
		return false, fmt.Errorf("update data for %s: %w", key, err)
	}
	return ct.RowsAffected() == 1, nil
}

// Get reads one row.
func (s *RealtimeStore) Get(ctx context.Context, key string) (*models.RealtimeRow, error) {
	var r models.RealtimeRow
	err := s.pool.QueryRow(ctx, `
		SELECT subscription_key, data_type, data, COALESCE(event_time, 0), subscribers, created_at, updated_at
		FROM realtime_data WHERE subscription_key = $1
	`, key).Scan(&r.SubscriptionKey, &r.DataType, &r.Data, &r.EventTime, &r.Subscribers, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get realtime row %s: %w", key, err)
	}
	return &r, nil
}

// List returns every live subscription row, for worker reconciliation.
func (s *RealtimeStore) List(ctx context.Context) ([]models.RealtimeRow, error) {
	return s.list(ctx, `
		SELECT subscription_key, data_type, data, COALESCE(event_time, 0), subscribers, created_at, updated_at
		FROM realtime_data ORDER BY subscription_key
	`)
}

// ListBySubscriber returns the rows carrying the given label.
func (s *RealtimeStore) ListBySubscriber(ctx context.Context, label string) ([]models.RealtimeRow, error) {
	return s.list(ctx, `
		SELECT subscription_key, data_type, data, COALESCE(event_time, 0), subscribers, created_at, updated_at
		FROM realtime_data WHERE $1 = ANY (subscribers) ORDER BY subscription_key
	`, label)
}

func (s *RealtimeStore) list(ctx context.Context, sql string, args ...any) ([]models.RealtimeRow, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list realtime rows: %w", err)
	}
	defer rows.Close()

	var out []models.RealtimeRow
	for rows.Next() {
		var r models.RealtimeRow
		if err := rows.Scan(&r.SubscriptionKey, &r.DataType, &r.Data, &r.EventTime, &r.Subscribers, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan realtime row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ScrubSubscriber removes the label everywhere and deletes drained rows.
// Services run this on startup so labels left by an unclean shutdown do not
// pin dead subscriptions open.
func (s *RealtimeStore) ScrubSubscriber(ctx context.Context, label string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin scrub: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE realtime_data SET subscribers = array_remove(subscribers, $1)
		WHERE $1 = ANY (subscribers)
	`, label); err != nil {
		return 0, fmt.Errorf("scrub label %s: %w", label, err)
	}

	ct, err := tx.Exec(ctx, `DELETE FROM realtime_data WHERE subscribers = '{}'`)
	if err != nil {
		return 0, fmt.Errorf("delete drained rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit scrub: %w", err)
	}
	return ct.RowsAffected(), nil
}
