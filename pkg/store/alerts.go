package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickwire/tickwire/pkg/models"
)

// AlertStore manages alert_configs. Every mutation fires the matching
// alert_config.* notification through the table trigger, which is how the
// signal engine learns about changes.
type AlertStore struct {
	pool *pgxpool.Pool
}

const alertColumns = `id, name, description, strategy_type, symbol, interval, trigger_type, params, is_enabled, created_at, updated_at`

// Create inserts a new alert. The caller supplies the ID.
func (s *AlertStore) Create(ctx context.Context, a *models.AlertConfig) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO alert_configs (id, name, description, strategy_type, symbol, interval, trigger_type, params, is_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, a.ID, a.Name, a.Description, a.StrategyType, a.Symbol, a.Interval, a.TriggerType, a.Params, a.Enabled).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

// Get reads one alert.
func (s *AlertStore) Get(ctx context.Context, id uuid.UUID) (*models.AlertConfig, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alert_configs WHERE id = $1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	return a, nil
}

// Update applies the non-nil fields and returns the updated row.
func (s *AlertStore) Update(ctx context.Context, id uuid.UUID, u models.AlertConfigUpdate) (*models.AlertConfig, error) {
	var trigger *string
	if u.TriggerType != nil {
		t := string(*u.TriggerType)
		trigger = &t
	}
	var params any
	if u.Params != nil {
		params = []byte(*u.Params)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE alert_configs SET
			name         = COALESCE($2, name),
			description  = COALESCE($3, description),
			symbol       = COALESCE($4, symbol),
			interval     = COALESCE($5, interval),
			trigger_type = COALESCE($6, trigger_type),
			params       = COALESCE($7, params),
			is_enabled   = COALESCE($8, is_enabled)
		WHERE id = $1
		RETURNING `+alertColumns+`
	`, id, u.Name, u.Description, u.Symbol, u.Interval, trigger, params, u.Enabled)

	a, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update alert %s: %w", id, err)
	}
	return a, nil
}

// SetEnabled flips is_enabled. once_only alerts use this to disable
// themselves after firing.
func (s *AlertStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.AlertConfig, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE alert_configs SET is_enabled = $2 WHERE id = $1
		RETURNING `+alertColumns+`
	`, id, enabled)

	a, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set alert %s enabled=%t: %w", id, enabled, err)
	}
	return a, nil
}

// Delete removes an alert.
func (s *AlertStore) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM alert_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns alerts, optionally only enabled ones, oldest first.
func (s *AlertStore) List(ctx context.Context, onlyEnabled bool) ([]models.AlertConfig, error) {
	sql := `SELECT ` + alertColumns + ` FROM alert_configs`
	if onlyEnabled {
		sql += ` WHERE is_enabled`
	}
	sql += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.AlertConfig
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAlert(row pgx.Row) (*models.AlertConfig, error) {
	var a models.AlertConfig
	var params []byte
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.StrategyType, &a.Symbol, &a.Interval,
		&a.TriggerType, &params, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Params = json.RawMessage(params)
	return &a, nil
}
