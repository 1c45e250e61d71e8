package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickwire/tickwire/pkg/models"
)

// ExchangeInfoStore manages the exchange_info symbol directory.
type ExchangeInfoStore struct {
	pool *pgxpool.Pool
}

const symbolColumns = `exchange, market_type, symbol, base_asset, quote_asset, status, price_precision, qty_precision, filters, updated_at`

// ReplaceMarket swaps the full symbol set for one exchange+market inside a
// transaction, so delisted symbols disappear atomically with the refresh.
func (s *ExchangeInfoStore) ReplaceMarket(ctx context.Context, exchange, marketType string, symbols []models.SymbolInfo) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin exchange info replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM exchange_info WHERE exchange = $1 AND market_type = $2
	`, exchange, marketType); err != nil {
		return fmt.Errorf("clear %s %s symbols: %w", exchange, marketType, err)
	}

	batch := &pgx.Batch{}
	for _, sym := range symbols {
		filters := sym.Filters
		if len(filters) == 0 {
			filters = []byte(`{}`)
		}
		batch.Queue(`
			INSERT INTO exchange_info (exchange, market_type, symbol, base_asset, quote_asset, status, price_precision, qty_precision, filters)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, exchange, marketType, sym.Symbol, sym.BaseAsset, sym.QuoteAsset, sym.Status, sym.PricePrecision, sym.QtyPrecision, filters)
	}

	results := tx.SendBatch(ctx, batch)
	for range symbols {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert %s %s symbols: %w", exchange, marketType, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close symbol batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit exchange info replace: %w", err)
	}
	return nil
}

// Get resolves one instrument.
func (s *ExchangeInfoStore) Get(ctx context.Context, exchange, marketType, symbol string) (*models.SymbolInfo, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+symbolColumns+` FROM exchange_info
		WHERE exchange = $1 AND market_type = $2 AND symbol = $3
	`, exchange, marketType, symbol)

	info, err := scanSymbol(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get symbol %s:%s (%s): %w", exchange, symbol, marketType, err)
	}
	return info, nil
}

// Search matches symbol or base asset by substring, case-insensitive.
// marketType narrows the search when non-empty.
func (s *ExchangeInfoStore) Search(ctx context.Context, query, marketType string, limit int) ([]models.SymbolInfo, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pattern := "%" + query + "%"

	sql := `SELECT ` + symbolColumns + ` FROM exchange_info
		WHERE (symbol ILIKE $1 OR base_asset ILIKE $1)`
	args := []any{pattern}
	if marketType != "" {
		args = append(args, marketType)
		sql += fmt.Sprintf(" AND market_type = $%d", len(args))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY symbol, market_type LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search symbols %q: %w", query, err)
	}
	defer rows.Close()

	var out []models.SymbolInfo
	for rows.Next() {
		info, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, *info)
	}
	return out, rows.Err()
}

// Count returns the number of stored symbols for one exchange+market.
func (s *ExchangeInfoStore) Count(ctx context.Context, exchange, marketType string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM exchange_info WHERE exchange = $1 AND market_type = $2
	`, exchange, marketType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s %s symbols: %w", exchange, marketType, err)
	}
	return n, nil
}

func scanSymbol(row pgx.Row) (*models.SymbolInfo, error) {
	var info models.SymbolInfo
	err := row.Scan(&info.Exchange, &info.MarketType, &info.Symbol, &info.BaseAsset, &info.QuoteAsset,
		&info.Status, &info.PricePrecision, &info.QtyPrecision, &info.Filters, &info.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &info, nil
}
