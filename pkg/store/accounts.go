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

// AccountStore manages account_info, one snapshot row per market type.
type AccountStore struct {
	pool *pgxpool.Pool
}

// Upsert stores the latest snapshot for an account type.
func (s *AccountStore) Upsert(ctx context.Context, accountType string, data json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_info (account_type, data)
		VALUES ($1, $2)
		ON CONFLICT (account_type) DO UPDATE SET data = EXCLUDED.data
	`, accountType, data)
	if err != nil {
		return fmt.Errorf("upsert %s account snapshot: %w", accountType, err)
	}
	return nil
}

// Get reads the snapshot for an account type.
func (s *AccountStore) Get(ctx context.Context, accountType string) (*models.AccountSnapshot, error) {
	var snap models.AccountSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT account_type, data, updated_at FROM account_info WHERE account_type = $1
	`, accountType).Scan(&snap.AccountType, &snap.Data, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s account snapshot: %w", accountType, err)
	}
	return &snap, nil
}
