package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tickwire/tickwire/pkg/exchange"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second

	// Binance pings every few minutes; a connection silent for longer than
	// this is dead even if TCP has not noticed.
	readIdleTimeout = 10 * time.Minute

	streamEventBuffer = 1024
)

// marketStream is one combined-stream connection. SUBSCRIBE/UNSUBSCRIBE
// frames multiplex any number of streams over it; events come back wrapped
// with their stream name.
type marketStream struct {
	exchangeName string
	market       string
	conn         *websocket.Conn
	log          *slog.Logger

	writeMu sync.Mutex
	reqID   atomic.Int64

	events chan exchange.StreamEvent
	errs   chan error
	done   chan struct{}

	closeOnce sync.Once
}

// OpenStream dials the market's combined-stream endpoint. The stream starts
// with no subscriptions.
func (c *Client) OpenStream(ctx context.Context, market string) (exchange.MarketStream, error) {
	base := c.cfg.WSURL
	if market == subkey.MarketFutures {
		base = c.cfg.FuturesWSURL
	}
	wsURL := strings.TrimRight(base, "/") + "/stream"

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s := &marketStream{
		exchangeName: c.cfg.Name,
		market:       market,
		conn:         conn,
		log:          c.log.With("market", market),
		events:       make(chan exchange.StreamEvent, streamEventBuffer),
		errs:         make(chan error, 1),
		done:         make(chan struct{}),
	}

	// The server pings; answering keeps the 24h session alive.
	conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})

	go s.readLoop()

	s.log.Info("Market stream connected", "url", wsURL)
	return s, nil
}

// Subscribe adds canonical keys to the stream.
func (s *marketStream) Subscribe(ctx context.Context, keys []string) error {
	return s.sendCommand(ctx, "SUBSCRIBE", keys)
}

// Unsubscribe removes canonical keys from the stream.
func (s *marketStream) Unsubscribe(ctx context.Context, keys []string) error {
	return s.sendCommand(ctx, "UNSUBSCRIBE", keys)
}

func (s *marketStream) Events() <-chan exchange.StreamEvent { return s.events }

func (s *marketStream) Errors() <-chan error { return s.errs }

func (s *marketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *marketStream) sendCommand(ctx context.Context, method string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	params := make([]string, 0, len(keys))
	for _, key := range keys {
		name, err := s.streamName(key)
		if err != nil {
			return err
		}
		params = append(params, name)
	}

	frame, err := json.Marshal(streamCommand{
		Method: method,
		Params: params,
		ID:     s.reqID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("encode %s command: %w", method, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	s.log.Debug("Stream command sent", "method", method, "streams", len(params))
	return nil
}

// streamName translates a canonical subscription key to the native stream
// name, e.g. BINANCE:BTCUSDT.P@KLINE_60 -> btcusdt@kline_1h.
func (s *marketStream) streamName(key string) (string, error) {
	k, err := subkey.Parse(key)
	if err != nil {
		return "", err
	}

	sym := strings.ToLower(k.Symbol)
	switch k.DataType {
	case subkey.DataTypeKline:
		native, err := subkey.NativeInterval(k.Interval)
		if err != nil {
			return "", err
		}
		return sym + "@kline_" + native, nil
	case subkey.DataTypeQuotes:
		return sym + "@ticker", nil
	case subkey.DataTypeTrade:
		return sym + "@trade", nil
	default:
		return "", fmt.Errorf("%w: %s", exchange.ErrStreamUnsupported, k.DataType)
	}
}

func (s *marketStream) readLoop() {
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done: // closed deliberately
			default:
				select {
				case s.errs <- err:
				default:
				}
			}
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Warn("Undecodable stream frame", "error", err)
			continue
		}
		if frame.Stream == "" {
			// Command acknowledgement ({"result":null,"id":N}).
			continue
		}

		ev, err := s.normalize(frame)
		if err != nil {
			s.log.Warn("Dropping malformed stream event", "stream", frame.Stream, "error", err)
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		default:
			s.log.Warn("Stream event buffer full, dropping tick", "stream", frame.Stream)
		}
	}
}

// normalize converts one wire event into a canonical StreamEvent.
func (s *marketStream) normalize(frame streamFrame) (exchange.StreamEvent, error) {
	at := strings.IndexByte(frame.Stream, '@')
	if at < 0 {
		return exchange.StreamEvent{}, fmt.Errorf("stream %q has no channel part", frame.Stream)
	}
	channel := frame.Stream[at+1:]

	switch {
	case strings.HasPrefix(channel, "kline_"):
		return s.normalizeKline(frame.Data)
	case channel == "ticker":
		return s.normalizeTicker(frame.Data)
	case channel == "trade":
		return s.normalizeTrade(frame.Data)
	default:
		return exchange.StreamEvent{}, fmt.Errorf("unexpected stream channel %q", channel)
	}
}

func (s *marketStream) canonicalSymbol(native string) string {
	sym := s.exchangeName + ":" + native
	if s.market == subkey.MarketFutures {
		sym += "." + subkey.SuffixPerpetual
	}
	return sym
}

func (s *marketStream) normalizeKline(data []byte) (exchange.StreamEvent, error) {
	var wire wireKlineEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return exchange.StreamEvent{}, fmt.Errorf("decode kline event: %w", err)
	}

	tv, err := subkey.TVInterval(wire.Kline.Interval)
	if err != nil {
		return exchange.StreamEvent{}, err
	}
	symbol := s.canonicalSymbol(wire.Kline.Symbol)

	payload := models.KlinePayload{
		Symbol:    symbol,
		Interval:  tv,
		OpenTime:  wire.Kline.OpenTime,
		CloseTime: wire.Kline.CloseTime,
		IsClosed:  wire.Kline.IsClosed,
	}
	for _, f := range []struct {
		src string
		dst *float64
	}{
		{wire.Kline.Open, &payload.Open},
		{wire.Kline.High, &payload.High},
		{wire.Kline.Low, &payload.Low},
		{wire.Kline.Close, &payload.Close},
		{wire.Kline.Volume, &payload.Volume},
	} {
		v, err := atof(f.src)
		if err != nil {
			return exchange.StreamEvent{}, err
		}
		*f.dst = v
	}

	return exchange.StreamEvent{
		Key:       symbol + "@" + string(subkey.DataTypeKline) + "_" + tv,
		DataType:  string(subkey.DataTypeKline),
		EventTime: wire.EventTime,
		Data:      payload,
	}, nil
}

func (s *marketStream) normalizeTicker(data []byte) (exchange.StreamEvent, error) {
	var wire wireTickerEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return exchange.StreamEvent{}, fmt.Errorf("decode ticker event: %w", err)
	}

	symbol := s.canonicalSymbol(wire.Symbol)
	ticker := wireTicker24h{
		Symbol:             wire.Symbol,
		LastPrice:          wire.LastPrice,
		BidPrice:           wire.BidPrice,
		AskPrice:           wire.AskPrice,
		OpenPrice:          wire.OpenPrice,
		HighPrice:          wire.HighPrice,
		LowPrice:           wire.LowPrice,
		Volume:             wire.Volume,
		PriceChangePercent: wire.PriceChangePercent,
	}
	payload, err := ticker.quote(symbol)
	if err != nil {
		return exchange.StreamEvent{}, err
	}

	return exchange.StreamEvent{
		Key:       symbol + "@" + string(subkey.DataTypeQuotes),
		DataType:  string(subkey.DataTypeQuotes),
		EventTime: wire.EventTime,
		Data:      payload,
	}, nil
}

func (s *marketStream) normalizeTrade(data []byte) (exchange.StreamEvent, error) {
	var wire wireTradeEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return exchange.StreamEvent{}, fmt.Errorf("decode trade event: %w", err)
	}

	symbol := s.canonicalSymbol(wire.Symbol)
	price, err := atof(wire.Price)
	if err != nil {
		return exchange.StreamEvent{}, err
	}
	qty, err := atof(wire.Quantity)
	if err != nil {
		return exchange.StreamEvent{}, err
	}

	return exchange.StreamEvent{
		Key:       symbol + "@" + string(subkey.DataTypeTrade),
		DataType:  string(subkey.DataTypeTrade),
		EventTime: wire.EventTime,
		Data: models.TradePayload{
			Symbol:    symbol,
			TradeID:   wire.TradeID,
			Price:     price,
			Quantity:  qty,
			TradeTime: wire.TradeTime,
			IsBuyer:   wire.IsBuyerMaker,
		},
	}, nil
}
