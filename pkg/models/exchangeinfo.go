package models

import (
	"encoding/json"
	"time"
)

// SymbolInfo mirrors an exchange_info row: one tradable instrument on one
// market. Rows are replaced wholesale on refresh so delisted symbols vanish.
type SymbolInfo struct {
	Exchange       string          `json:"exchange"`
	MarketType     string          `json:"market_type"` // SPOT or FUTURES
	Symbol         string          `json:"symbol"`
	BaseAsset      string          `json:"base_asset,omitempty"`
	QuoteAsset     string          `json:"quote_asset,omitempty"`
	Status         string          `json:"status,omitempty"`
	PricePrecision int             `json:"price_precision,omitempty"`
	QtyPrecision   int             `json:"qty_precision,omitempty"`
	Filters        json.RawMessage `json:"filters,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
