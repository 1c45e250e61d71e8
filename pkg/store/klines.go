package store

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickwire/tickwire/pkg/models"
)

// KlineStore manages klines_history. Live closed bars arrive through the
// archival trigger; this store serves the worker's historical backfill and
// all reads.
type KlineStore struct {
	pool *pgxpool.Pool
}

// BatchUpsert writes bars for one series in a single round trip. Re-fetched
// bars overwrite in place, so repairs and overlapping pages are harmless.
func (s *KlineStore) BatchUpsert(ctx context.Context, symbol, interval string, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(`
			INSERT INTO klines_history (symbol, interval, open_time, open, high, low, close, volume, close_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (symbol, interval, open_time) DO UPDATE
			SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			    close = EXCLUDED.close, volume = EXCLUDED.volume, close_time = EXCLUDED.close_time
		`, symbol, interval, b.OpenTime, b.Open, b.High, b.Low, b.Close, b.Volume, b.CloseTime)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range bars {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("upsert klines %s %s: %w", symbol, interval, err)
		}
	}
	return len(bars), nil
}

// Range returns bars with open_time in [fromMs, toMs], ascending. Zero
// bounds mean unbounded; limit <= 0 means no limit.
func (s *KlineStore) Range(ctx context.Context, symbol, interval string, fromMs, toMs int64, limit int) ([]models.Bar, error) {
	if toMs <= 0 {
		toMs = math.MaxInt64
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}

	rows, err := s.pool.Query(ctx, `
		SELECT open_time, open, high, low, close, volume, COALESCE(close_time, 0)
		FROM klines_history
		WHERE symbol = $1 AND interval = $2 AND open_time >= $3 AND open_time <= $4
		ORDER BY open_time
		LIMIT $5
	`, symbol, interval, fromMs, toMs, limit)
	if err != nil {
		return nil, fmt.Errorf("range klines %s %s: %w", symbol, interval, err)
	}
	defer rows.Close()
	return scanBars(rows)
}

// RecentBars returns the latest n bars, ascending.
func (s *KlineStore) RecentBars(ctx context.Context, symbol, interval string, n int) ([]models.Bar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT open_time, open, high, low, close, volume, COALESCE(close_time, 0)
		FROM klines_history
		WHERE symbol = $1 AND interval = $2
		ORDER BY open_time DESC
		LIMIT $3
	`, symbol, interval, n)
	if err != nil {
		return nil, fmt.Errorf("recent klines %s %s: %w", symbol, interval, err)
	}
	defer rows.Close()

	bars, err := scanBars(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// HasBar reports whether the exact bar exists.
func (s *KlineStore) HasBar(ctx context.Context, symbol, interval string, openTime int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM klines_history
			WHERE symbol = $1 AND interval = $2 AND open_time = $3
		)
	`, symbol, interval, openTime).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe kline %s %s @%d: %w", symbol, interval, openTime, err)
	}
	return exists, nil
}

func scanBars(rows pgx.Rows) ([]models.Bar, error) {
	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.CloseTime); err != nil {
			return nil, fmt.Errorf("scan kline: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
