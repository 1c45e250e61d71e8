package binance

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tickwire/tickwire/pkg/models"
)

// Binance sends prices and quantities as strings; everything here parses
// them into the canonical float64 payloads at the wire boundary.

func atof(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	return f, nil
}

// wireKline is the positional REST row:
// [openTime, open, high, low, close, volume, closeTime, ...].
type wireKline []json.RawMessage

func (w wireKline) bar() (models.Bar, error) {
	if len(w) < 7 {
		return models.Bar{}, fmt.Errorf("kline row has %d fields, want at least 7", len(w))
	}

	var b models.Bar
	if err := json.Unmarshal(w[0], &b.OpenTime); err != nil {
		return models.Bar{}, fmt.Errorf("kline open time: %w", err)
	}
	if err := json.Unmarshal(w[6], &b.CloseTime); err != nil {
		return models.Bar{}, fmt.Errorf("kline close time: %w", err)
	}

	for _, f := range []struct {
		idx int
		dst *float64
	}{
		{1, &b.Open}, {2, &b.High}, {3, &b.Low}, {4, &b.Close}, {5, &b.Volume},
	} {
		var s string
		if err := json.Unmarshal(w[f.idx], &s); err != nil {
			return models.Bar{}, fmt.Errorf("kline field %d: %w", f.idx, err)
		}
		v, err := atof(s)
		if err != nil {
			return models.Bar{}, err
		}
		*f.dst = v
	}
	return b, nil
}

type wireServerTime struct {
	ServerTime int64 `json:"serverTime"`
}

// wireTicker24h covers both the spot and futures 24hr ticker; futures omits
// the bid and ask fields.
type wireTicker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

func (w wireTicker24h) quote(canonicalSymbol string) (models.QuotePayload, error) {
	q := models.QuotePayload{Symbol: canonicalSymbol}
	for _, f := range []struct {
		src string
		dst *float64
	}{
		{w.LastPrice, &q.Last},
		{w.BidPrice, &q.Bid},
		{w.AskPrice, &q.Ask},
		{w.OpenPrice, &q.Open24h},
		{w.HighPrice, &q.High24h},
		{w.LowPrice, &q.Low24h},
		{w.Volume, &q.Volume24h},
		{w.PriceChangePercent, &q.PercentChange},
	} {
		v, err := atof(f.src)
		if err != nil {
			return models.QuotePayload{}, fmt.Errorf("ticker %s: %w", w.Symbol, err)
		}
		*f.dst = v
	}
	return q, nil
}

type wireExchangeInfo struct {
	Symbols []wireSymbol `json:"symbols"`
}

// wireSymbol carries the union of spot and futures instrument fields. Spot
// reports asset precisions, futures reports explicit price and quantity
// precisions.
type wireSymbol struct {
	Symbol              string          `json:"symbol"`
	Status              string          `json:"status"`
	BaseAsset           string          `json:"baseAsset"`
	QuoteAsset          string          `json:"quoteAsset"`
	BaseAssetPrecision  int             `json:"baseAssetPrecision"`
	QuoteAssetPrecision int             `json:"quoteAssetPrecision"`
	PricePrecision      int             `json:"pricePrecision"`
	QuantityPrecision   int             `json:"quantityPrecision"`
	Filters             json.RawMessage `json:"filters"`
}

func (w wireSymbol) symbolInfo(exchange, market string) models.SymbolInfo {
	info := models.SymbolInfo{
		Exchange:   exchange,
		MarketType: market,
		Symbol:     w.Symbol,
		BaseAsset:  w.BaseAsset,
		QuoteAsset: w.QuoteAsset,
		Status:     w.Status,
		Filters:    w.Filters,
	}
	if w.PricePrecision > 0 || w.QuantityPrecision > 0 {
		info.PricePrecision = w.PricePrecision
		info.QtyPrecision = w.QuantityPrecision
	} else {
		info.PricePrecision = w.QuoteAssetPrecision
		info.QtyPrecision = w.BaseAssetPrecision
	}
	return info
}

// Stream frames. The combined endpoint wraps every event as
// {"stream": "<name>", "data": {...}}; frames without a stream field are
// command responses.
type streamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type streamCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type wireKlineEvent struct {
	EventTime int64 `json:"E"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

type wireTickerEvent struct {
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s"`
	LastPrice          string `json:"c"`
	OpenPrice          string `json:"o"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	PriceChangePercent string `json:"P"`
	BidPrice           string `json:"b"`
	AskPrice           string `json:"a"`
}

type wireTradeEvent struct {
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}
