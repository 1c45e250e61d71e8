// Package subkey parses and formats subscription keys, the canonical
// addressing scheme for realtime market data:
//
//	EXCHANGE:SYMBOL[.SUFFIX]@DATATYPE[_INTERVAL]
//
// Examples:
//
//	BINANCE:BTCUSDT@KLINE_60     1-hour klines for spot BTCUSDT
//	BINANCE:BTCUSDT.P@KLINE_D    daily klines for the perpetual contract
//	BINANCE:ETHUSDT@QUOTES       24h ticker quotes
//	BINANCE:ACCOUNT@ACCOUNT      account snapshot stream
//
// Intervals use TradingView notation: minute counts (1..720) and the
// letter resolutions D, 3D, W, M. Synthetic signal keys (SIGNAL:<alert-id>)
// are a separate namespace handled by IsSignalKey/ParseSignalKey.
package subkey

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataType identifies what kind of realtime payload a key carries.
type DataType string

const (
	DataTypeKline   DataType = "KLINE"
	DataTypeQuotes  DataType = "QUOTES"
	DataTypeTrade   DataType = "TRADE"
	DataTypeAccount DataType = "ACCOUNT"
)

// SignalPrefix namespaces synthetic signal subscription keys. These keys
// never touch realtime_data; the gateway fans signal.new events out on them.
const SignalPrefix = "SIGNAL:"

// SuffixPerpetual marks a perpetual futures contract symbol (BTCUSDT.P).
const SuffixPerpetual = "P"

// Market type constants shared with exchange_info and account_info rows.
const (
	MarketSpot    = "SPOT"
	MarketFutures = "FUTURES"
)

// Key is a parsed subscription key. Zero value is invalid; build via Parse
// or fill every field and rely on String for canonical formatting.
type Key struct {
	Exchange string
	Symbol   string
	Suffix   string // empty for spot; "P" for perpetuals
	DataType DataType
	Interval string // TV notation; set only for KLINE keys
}

// Parse validates raw against the key grammar and returns its parts.
// Exchange, symbol, suffix and data type are upper-cased; interval letters
// (D/W/M) likewise.
func Parse(raw string) (Key, error) {
	if strings.HasPrefix(strings.ToUpper(raw), SignalPrefix) {
		return Key{}, fmt.Errorf("signal key %q is not a market subscription key", raw)
	}

	instrument, stream, ok := strings.Cut(raw, "@")
	if !ok {
		return Key{}, fmt.Errorf("invalid subscription key %q: missing '@'", raw)
	}

	exchange, symbolPart, ok := strings.Cut(instrument, ":")
	if !ok {
		return Key{}, fmt.Errorf("invalid subscription key %q: missing ':' in instrument", raw)
	}
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	if exchange == "" {
		return Key{}, fmt.Errorf("invalid subscription key %q: empty exchange", raw)
	}

	symbol, suffix, _ := strings.Cut(symbolPart, ".")
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	suffix = strings.ToUpper(strings.TrimSpace(suffix))
	if symbol == "" {
		return Key{}, fmt.Errorf("invalid subscription key %q: empty symbol", raw)
	}

	dtPart, interval, hasInterval := strings.Cut(stream, "_")
	dt := DataType(strings.ToUpper(strings.TrimSpace(dtPart)))

	switch dt {
	case DataTypeKline:
		if !hasInterval {
			return Key{}, fmt.Errorf("invalid subscription key %q: KLINE requires an interval", raw)
		}
		interval = strings.ToUpper(strings.TrimSpace(interval))
		if !ValidInterval(interval) {
			return Key{}, fmt.Errorf("invalid subscription key %q: unknown interval %q", raw, interval)
		}
	case DataTypeQuotes, DataTypeTrade, DataTypeAccount:
		if hasInterval {
			return Key{}, fmt.Errorf("invalid subscription key %q: %s takes no interval", raw, dt)
		}
		interval = ""
	default:
		return Key{}, fmt.Errorf("invalid subscription key %q: unknown data type %q", raw, dtPart)
	}

	return Key{
		Exchange: exchange,
		Symbol:   symbol,
		Suffix:   suffix,
		DataType: dt,
		Interval: interval,
	}, nil
}

// String renders the canonical key form. Inverse of Parse.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Exchange)
	b.WriteByte(':')
	b.WriteString(k.Symbol)
	if k.Suffix != "" {
		b.WriteByte('.')
		b.WriteString(k.Suffix)
	}
	b.WriteByte('@')
	b.WriteString(string(k.DataType))
	if k.Interval != "" {
		b.WriteByte('_')
		b.WriteString(k.Interval)
	}
	return b.String()
}

// CanonicalSymbol returns "EXCHANGE:SYMBOL[.SUFFIX]", the symbol form used
// in klines_history rows and client-facing requests.
func (k Key) CanonicalSymbol() string {
	if k.Suffix != "" {
		return k.Exchange + ":" + k.Symbol + "." + k.Suffix
	}
	return k.Exchange + ":" + k.Symbol
}

// MarketType maps the suffix to the market the instrument trades on.
func (k Key) MarketType() string {
	if k.Suffix == SuffixPerpetual {
		return MarketFutures
	}
	return MarketSpot
}

// SignalKey builds the synthetic subscription key for an alert's signals.
func SignalKey(alertID uuid.UUID) string {
	return SignalPrefix + alertID.String()
}

// IsSignalKey reports whether raw addresses the signal namespace.
func IsSignalKey(raw string) bool {
	return strings.HasPrefix(strings.ToUpper(raw), SignalPrefix)
}

// ParseSignalKey extracts the alert ID from a SIGNAL:<uuid> key.
func ParseSignalKey(raw string) (uuid.UUID, error) {
	if !IsSignalKey(raw) {
		return uuid.Nil, fmt.Errorf("not a signal key: %q", raw)
	}
	id, err := uuid.Parse(raw[len(SignalPrefix):])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid signal key %q: %w", raw, err)
	}
	return id, nil
}

// SplitCanonicalSymbol parses "EXCHANGE:SYMBOL[.SUFFIX]" as found in
// klines_history rows and kline requests.
func SplitCanonicalSymbol(s string) (exchange, symbol, suffix string, err error) {
	exchange, rest, ok := strings.Cut(s, ":")
	if !ok || exchange == "" || rest == "" {
		return "", "", "", fmt.Errorf("invalid symbol %q: want EXCHANGE:SYMBOL", s)
	}
	symbol, suffix, _ = strings.Cut(rest, ".")
	return strings.ToUpper(exchange), strings.ToUpper(symbol), strings.ToUpper(suffix), nil
}

// tvIntervals is the closed set of supported TradingView resolutions, in
// ascending bar-length order.
var tvIntervals = []string{"1", "3", "5", "15", "30", "60", "120", "240", "360", "480", "720", "D", "3D", "W", "M"}

// intervalMillis holds fixed bar lengths. M is absent: months are calendar
// stepped (see NextOpenTime).
var intervalMillis = map[string]int64{
	"1":   time.Minute.Milliseconds(),
	"3":   3 * time.Minute.Milliseconds(),
	"5":   5 * time.Minute.Milliseconds(),
	"15":  15 * time.Minute.Milliseconds(),
	"30":  30 * time.Minute.Milliseconds(),
	"60":  time.Hour.Milliseconds(),
	"120": 2 * time.Hour.Milliseconds(),
	"240": 4 * time.Hour.Milliseconds(),
	"360": 6 * time.Hour.Milliseconds(),
	"480": 8 * time.Hour.Milliseconds(),
	"720": 12 * time.Hour.Milliseconds(),
	"D":   24 * time.Hour.Milliseconds(),
	"3D":  72 * time.Hour.Milliseconds(),
	"W":   7 * 24 * time.Hour.Milliseconds(),
}

// Intervals returns the supported TV resolutions in ascending order.
func Intervals() []string {
	out := make([]string, len(tvIntervals))
	copy(out, tvIntervals)
	return out
}

// ValidInterval reports whether interval is one of the supported TV
// resolutions.
func ValidInterval(interval string) bool {
	_, fixed := intervalMillis[interval]
	return fixed || interval == "M"
}

// IntervalMillis returns the fixed bar length in milliseconds. ok is false
// for the calendar-stepped monthly interval.
func IntervalMillis(interval string) (ms int64, ok bool) {
	ms, ok = intervalMillis[interval]
	return ms, ok
}

// NextOpenTime returns the open time of the bar following the one opening
// at openMs. Months step by calendar; everything else by fixed length.
func NextOpenTime(openMs int64, interval string) int64 {
	if interval == "M" {
		t := time.UnixMilli(openMs).UTC()
		return t.AddDate(0, 1, 0).UnixMilli()
	}
	ms, ok := intervalMillis[interval]
	if !ok {
		return openMs
	}
	return openMs + ms
}

// AlignOpenTime floors tsMs to the open time of the bar containing it,
// matching upstream kline bucketing: minutes/hours from epoch, days at UTC
// midnight, 3D blocks from epoch, weeks starting Monday, months at the
// first of the month.
func AlignOpenTime(tsMs int64, interval string) int64 {
	switch interval {
	case "M":
		t := time.UnixMilli(tsMs).UTC()
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	case "W":
		t := time.UnixMilli(tsMs).UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// Monday-based week start.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset).UnixMilli()
	default:
		ms, ok := intervalMillis[interval]
		if !ok || ms == 0 {
			return tsMs
		}
		return tsMs - tsMs%ms
	}
}

// nativeByTV maps TV resolutions to upstream exchange interval names.
var nativeByTV = map[string]string{
	"1": "1m", "3": "3m", "5": "5m", "15": "15m", "30": "30m",
	"60": "1h", "120": "2h", "240": "4h", "360": "6h", "480": "8h", "720": "12h",
	"D": "1d", "3D": "3d", "W": "1w", "M": "1M",
}

var tvByNative = func() map[string]string {
	m := make(map[string]string, len(nativeByTV))
	for tv, native := range nativeByTV {
		m[native] = tv
	}
	return m
}()

// NativeInterval translates a TV resolution to the upstream exchange
// interval name ("60" -> "1h").
func NativeInterval(tv string) (string, error) {
	native, ok := nativeByTV[tv]
	if !ok {
		return "", fmt.Errorf("unknown TV interval %q", tv)
	}
	return native, nil
}

// TVInterval translates an upstream exchange interval name to TV notation
// ("1h" -> "60"). TV-notated input passes through unchanged.
func TVInterval(native string) (string, error) {
	if tv, ok := tvByNative[native]; ok {
		return tv, nil
	}
	if ValidInterval(native) {
		return native, nil
	}
	return "", fmt.Errorf("unknown exchange interval %q", native)
}
