// Package exchange defines the upstream exchange contract. The worker talks
// only to these interfaces; wire formats, signing, and stream conventions
// live in the per-exchange packages underneath.
package exchange

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tickwire/tickwire/pkg/models"
)

var (
	// ErrNoCredentials is returned by signed endpoints when the adapter was
	// built without an API key.
	ErrNoCredentials = errors.New("exchange: credentials not configured")

	// ErrStreamUnsupported is returned by Subscribe for keys the exchange
	// cannot serve over its market stream.
	ErrStreamUnsupported = errors.New("exchange: data type not streamable")
)

// KlinesQuery asks for historical bars. Symbol and Interval are
// exchange-native; the worker translates from canonical notation before
// calling.
type KlinesQuery struct {
	Market   string // SPOT or FUTURES
	Symbol   string // native, e.g. BTCUSDT
	Interval string // native, e.g. 1m
	FromMs   int64  // inclusive; 0 = exchange default
	ToMs     int64  // inclusive; 0 = now
	Limit    int    // 0 = exchange default
}

// StreamEvent is one normalized market tick. Data holds the canonical
// payload for the data type: models.KlinePayload, models.QuotePayload, or
// models.TradePayload.
type StreamEvent struct {
	Key       string // canonical subscription key
	DataType  string // KLINE, QUOTES, TRADE
	EventTime int64  // exchange event time, ms
	Data      any
}

// MarketStream is one multiplexed upstream connection. Implementations
// normalize raw frames into StreamEvents; a value on Errors means the
// connection is dead and the caller must Close and reopen.
type MarketStream interface {
	// Subscribe adds canonical subscription keys to the stream.
	Subscribe(ctx context.Context, keys []string) error
	// Unsubscribe removes canonical subscription keys from the stream.
	Unsubscribe(ctx context.Context, keys []string) error
	// Events yields normalized ticks until the stream closes.
	Events() <-chan StreamEvent
	// Errors yields the fatal connection error, at most one.
	Errors() <-chan error
	Close() error
}

// Adapter is the full upstream surface for one exchange.
type Adapter interface {
	// Name returns the exchange label used in canonical symbols.
	Name() string

	ServerTime(ctx context.Context) (int64, error)
	Klines(ctx context.Context, q KlinesQuery) ([]models.Bar, error)

	// Quote fetches one 24h ticker.
	Quote(ctx context.Context, market, symbol string) (*models.QuotePayload, error)
	// BatchQuotes fetches several tickers in one call. Callers must check
	// SupportsBatchQuotes first and fan out over Quote when false.
	BatchQuotes(ctx context.Context, market string, symbols []string) ([]models.QuotePayload, error)
	SupportsBatchQuotes(market string) bool

	ExchangeInfo(ctx context.Context, market string) ([]models.SymbolInfo, error)

	// Account fetches the signed account snapshot for the market, verbatim.
	Account(ctx context.Context, market string) (json.RawMessage, error)

	// OpenStream dials the market's multiplexed stream with no initial
	// subscriptions.
	OpenStream(ctx context.Context, market string) (MarketStream, error)
}
