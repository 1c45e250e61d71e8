package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tickwire/tickwire/pkg/exchange"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// maxKlinesPerRequest is the Binance page cap for both markets.
const maxKlinesPerRequest = 1000

func marketPath(market, spotPath, futuresPath string) string {
	if market == subkey.MarketFutures {
		return futuresPath
	}
	return spotPath
}

// ServerTime returns the exchange clock in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var wire wireServerTime
	if err := c.get(ctx, subkey.MarketSpot, "/api/v3/time", nil, false, &wire); err != nil {
		return 0, err
	}
	return wire.ServerTime, nil
}

// Klines fetches one page of historical bars, oldest first.
func (c *Client) Klines(ctx context.Context, q exchange.KlinesQuery) ([]models.Bar, error) {
	query := url.Values{}
	query.Set("symbol", q.Symbol)
	query.Set("interval", q.Interval)
	if q.FromMs > 0 {
		query.Set("startTime", strconv.FormatInt(q.FromMs, 10))
	}
	if q.ToMs > 0 {
		query.Set("endTime", strconv.FormatInt(q.ToMs, 10))
	}
	limit := q.Limit
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}
	query.Set("limit", strconv.Itoa(limit))

	path := marketPath(q.Market, "/api/v3/klines", "/fapi/v1/klines")
	var rows []wireKline
	if err := c.get(ctx, q.Market, path, query, false, &rows); err != nil {
		return nil, err
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, row := range rows {
		b, err := row.bar()
		if err != nil {
			return nil, fmt.Errorf("%s %s klines: %w", q.Symbol, q.Interval, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// Quote fetches one 24h ticker.
func (c *Client) Quote(ctx context.Context, market, symbol string) (*models.QuotePayload, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	path := marketPath(market, "/api/v3/ticker/24hr", "/fapi/v1/ticker/24hr")
	var wire wireTicker24h
	if err := c.get(ctx, market, path, query, false, &wire); err != nil {
		return nil, err
	}

	q, err := wire.quote(c.canonicalSymbol(market, wire.Symbol))
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// BatchQuotes fetches several tickers in one request. Spot only: the futures
// 24hr endpoint takes a single symbol or none at all.
func (c *Client) BatchQuotes(ctx context.Context, market string, symbols []string) ([]models.QuotePayload, error) {
	if !c.SupportsBatchQuotes(market) {
		return nil, fmt.Errorf("batch quotes not supported on %s", market)
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	// The symbols parameter is a JSON array, e.g. ["BTCUSDT","ETHUSDT"].
	encoded, err := json.Marshal(symbols)
	if err != nil {
		return nil, fmt.Errorf("encode symbols: %w", err)
	}
	query := url.Values{}
	query.Set("symbols", string(encoded))

	var wires []wireTicker24h
	if err := c.get(ctx, market, "/api/v3/ticker/24hr", query, false, &wires); err != nil {
		return nil, err
	}

	quotes := make([]models.QuotePayload, 0, len(wires))
	for _, w := range wires {
		q, err := w.quote(c.canonicalSymbol(market, w.Symbol))
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// SupportsBatchQuotes reports whether BatchQuotes works for the market.
func (c *Client) SupportsBatchQuotes(market string) bool {
	return market == subkey.MarketSpot
}

// ExchangeInfo fetches the full instrument directory for one market.
func (c *Client) ExchangeInfo(ctx context.Context, market string) ([]models.SymbolInfo, error) {
	path := marketPath(market, "/api/v3/exchangeInfo", "/fapi/v1/exchangeInfo")
	var wire wireExchangeInfo
	if err := c.get(ctx, market, path, nil, false, &wire); err != nil {
		return nil, err
	}

	infos := make([]models.SymbolInfo, 0, len(wire.Symbols))
	for _, ws := range wire.Symbols {
		infos = append(infos, ws.symbolInfo(c.cfg.Name, market))
	}
	return infos, nil
}
