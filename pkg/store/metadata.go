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

// StrategyMetadataStore manages alert_strategy_metadata, the catalog the
// signal engine publishes at startup and the gateway serves to clients.
type StrategyMetadataStore struct {
	pool *pgxpool.Pool
}

// Upsert registers or refreshes one strategy descriptor.
func (s *StrategyMetadataStore) Upsert(ctx context.Context, meta models.StrategyMetadata) error {
	params, err := json.Marshal(meta.Params)
	if err != nil {
		return fmt.Errorf("marshal params for %s: %w", meta.StrategyType, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO alert_strategy_metadata (strategy_type, name, description, params)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (strategy_type) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description, params = EXCLUDED.params
	`, meta.StrategyType, meta.Name, meta.Description, params)
	if err != nil {
		return fmt.Errorf("upsert strategy metadata %s: %w", meta.StrategyType, err)
	}
	return nil
}

// Get reads one strategy descriptor.
func (s *StrategyMetadataStore) Get(ctx context.Context, strategyType string) (*models.StrategyMetadata, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT strategy_type, name, description, params, updated_at
		FROM alert_strategy_metadata WHERE strategy_type = $1
	`, strategyType)

	meta, err := scanStrategyMetadata(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy metadata %s: %w", strategyType, err)
	}
	return meta, nil
}

// List returns every registered strategy descriptor, alphabetically.
func (s *StrategyMetadataStore) List(ctx context.Context) ([]models.StrategyMetadata, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT strategy_type, name, description, params, updated_at
		FROM alert_strategy_metadata ORDER BY strategy_type
	`)
	if err != nil {
		return nil, fmt.Errorf("list strategy metadata: %w", err)
	}
	defer rows.Close()

	var out []models.StrategyMetadata
	for rows.Next() {
		meta, err := scanStrategyMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy metadata: %w", err)
		}
		out = append(out, *meta)
	}
	return out, rows.Err()
}

func scanStrategyMetadata(row pgx.Row) (*models.StrategyMetadata, error) {
	var meta models.StrategyMetadata
	var params []byte
	if err := row.Scan(&meta.StrategyType, &meta.Name, &meta.Description, &params, &meta.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &meta.Params); err != nil {
		return nil, fmt.Errorf("decode params for %s: %w", meta.StrategyType, err)
	}
	return &meta, nil
}
