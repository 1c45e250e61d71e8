package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickwire/tickwire/pkg/models"
)

// SignalStore manages strategy_signals, the append-only emission log.
// Inserts fire signal.new, which is how signals reach gateway subscribers.
type SignalStore struct {
	pool *pgxpool.Pool
}

// Insert appends one signal and fills in ID and ComputedAt.
func (s *SignalStore) Insert(ctx context.Context, sig *models.StrategySignal) error {
	metadata := sig.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO strategy_signals (alert_id, strategy_type, symbol, interval, trigger_type, signal, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, computed_at
	`, sig.AlertID, sig.StrategyType, sig.Symbol, sig.Interval, sig.TriggerType, sig.Signal, sig.Reason, metadata).
		Scan(&sig.ID, &sig.ComputedAt)
	if err != nil {
		return fmt.Errorf("insert signal for alert %s: %w", sig.AlertID, err)
	}
	return nil
}

// SignalFilter narrows List. Zero values mean "any".
type SignalFilter struct {
	AlertID      uuid.UUID
	StrategyType string
	Symbol       string
	Since        time.Time
	Limit        int
}

// List returns signals newest first.
func (s *SignalStore) List(ctx context.Context, f SignalFilter) ([]models.StrategySignal, error) {
	sql := `
		SELECT id, alert_id, strategy_type, symbol, interval, trigger_type, signal, reason, metadata, computed_at
		FROM strategy_signals WHERE true`
	var args []any
	if f.AlertID != uuid.Nil {
		args = append(args, f.AlertID)
		sql += fmt.Sprintf(" AND alert_id = $%d", len(args))
	}
	if f.StrategyType != "" {
		args = append(args, f.StrategyType)
		sql += fmt.Sprintf(" AND strategy_type = $%d", len(args))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		sql += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		sql += fmt.Sprintf(" AND computed_at >= $%d", len(args))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY computed_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []models.StrategySignal
	for rows.Next() {
		var sig models.StrategySignal
		if err := rows.Scan(&sig.ID, &sig.AlertID, &sig.StrategyType, &sig.Symbol, &sig.Interval,
			&sig.TriggerType, &sig.Signal, &sig.Reason, &sig.Metadata, &sig.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// PurgeOlder deletes signals computed before now-maxAge.
func (s *SignalStore) PurgeOlder(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	ct, err := s.pool.Exec(ctx, `DELETE FROM strategy_signals WHERE computed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge signals: %w", err)
	}
	return ct.RowsAffected(), nil
}
