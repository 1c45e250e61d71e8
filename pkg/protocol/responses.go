package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/models"
)

// dataMessage marshals v, rewrites every key to camelCase, and wraps the
// result in a wire envelope. Internal structs keep snake_case tags; this is
// the single seam where casing flips.
func dataMessage(msgType, requestID string, v any) (*Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", msgType, err)
	}
	camel, err := CamelizeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("camelize %s data: %w", msgType, err)
	}
	return newMessage(msgType, requestID, camel), nil
}

// Ack acknowledges receipt of a valid request. It always precedes the
// terminal response for the same requestId.
func Ack(requestID string) *Message {
	return newMessage(TypeAck, requestID, nil)
}

type errorPayload struct {
	ErrorCode    ErrorCode `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage"`
}

// Error renders a WireError as the terminal ERROR frame.
func Error(werr *WireError) *Message {
	data, _ := json.Marshal(errorPayload{ErrorCode: werr.Code, ErrorMessage: werr.Message})
	return newMessage(TypeError, werr.RequestID, data)
}

// ErrorWith builds an ERROR frame directly from parts.
func ErrorWith(requestID string, code ErrorCode, format string, args ...any) *Message {
	return Error(NewWireError(requestID, code, format, args...))
}

type updatePayload struct {
	SubscriptionKey string          `json:"subscription_key"`
	DataType        string          `json:"data_type,omitempty"`
	EventTime       int64           `json:"event_time,omitempty"`
	Content         json.RawMessage `json:"content"`
}

// Update builds an unsolicited push for one subscription key. Content is
// internal snake_case JSON; it reaches the wire camelCased. UPDATE frames
// never carry a requestId.
func Update(subscriptionKey, dataType string, eventTime int64, content json.RawMessage) (*Message, error) {
	return dataMessage(TypeUpdate, "", updatePayload{
		SubscriptionKey: subscriptionKey,
		DataType:        dataType,
		EventTime:       eventTime,
		Content:         content,
	})
}

// WireBar is the chart-facing bar shape: time is the bar open in ms.
type WireBar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type klinesData struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Bars     []WireBar `json:"bars"`
	Count    int       `json:"count"`
}

// KlinesData builds the terminal KLINES_DATA frame from history bars.
func KlinesData(requestID, symbol, interval string, bars []models.Bar) (*Message, error) {
	wire := make([]WireBar, len(bars))
	for i, b := range bars {
		wire[i] = WireBar{Time: b.OpenTime, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	return dataMessage(TypeKlinesData, requestID, klinesData{
		Symbol:   symbol,
		Interval: interval,
		Bars:     wire,
		Count:    len(wire),
	})
}

type quotesData struct {
	Quotes json.RawMessage `json:"quotes"`
}

// QuotesData wraps a task's raw quote array (snake_case) into the terminal
// QUOTES_DATA frame.
func QuotesData(requestID string, quotes json.RawMessage) (*Message, error) {
	if len(quotes) == 0 {
		quotes = json.RawMessage("[]")
	}
	return dataMessage(TypeQuotesData, requestID, quotesData{Quotes: quotes})
}

type serverTimeData struct {
	ServerTime int64 `json:"server_time"`
}

// ServerTimeData builds the terminal SERVER_TIME_DATA frame.
func ServerTimeData(requestID string, serverTime int64) (*Message, error) {
	return dataMessage(TypeServerTimeData, requestID, serverTimeData{ServerTime: serverTime})
}

type accountData struct {
	AccountType string          `json:"account_type"`
	Data        json.RawMessage `json:"data"`
	UpdatedAt   int64           `json:"updated_at"`
}

// AccountData builds the terminal ACCOUNT_DATA frame from a stored snapshot.
func AccountData(requestID string, snap *models.AccountSnapshot) (*Message, error) {
	return dataMessage(TypeAccountData, requestID, accountData{
		AccountType: snap.AccountType,
		Data:        snap.Data,
		UpdatedAt:   snap.UpdatedAt.UnixMilli(),
	})
}

type subscriptionData struct {
	Subscriptions []string `json:"subscriptions"`
}

// SubscriptionData builds the terminal SUBSCRIPTION_DATA frame listing the
// client's current keys.
func SubscriptionData(requestID string, keys []string) (*Message, error) {
	if keys == nil {
		keys = []string{}
	}
	return dataMessage(TypeSubscriptionData, requestID, subscriptionData{Subscriptions: keys})
}

// ExchangeDesc is one exchange entry in CONFIG_DATA.
type ExchangeDesc struct {
	Value string `json:"value"`
	Name  string `json:"name"`
	Desc  string `json:"desc,omitempty"`
}

// SymbolTypeDesc is one instrument-type entry in CONFIG_DATA.
type SymbolTypeDesc struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DatafeedConfig is the CONFIG_DATA payload, shaped for charting datafeeds.
type DatafeedConfig struct {
	SupportedResolutions []string         `json:"supported_resolutions"`
	SupportsSearch       bool             `json:"supports_search"`
	SupportsGroupRequest bool             `json:"supports_group_request"`
	Exchanges            []ExchangeDesc   `json:"exchanges"`
	SymbolsTypes         []SymbolTypeDesc `json:"symbols_types"`
}

// ConfigData builds the terminal CONFIG_DATA frame.
func ConfigData(requestID string, cfg DatafeedConfig) (*Message, error) {
	return dataMessage(TypeConfigData, requestID, cfg)
}

// SymbolSearchResult is one row of SEARCH_SYMBOLS_DATA.
type SymbolSearchResult struct {
	Symbol      string `json:"symbol"`    // native symbol (BTCUSDT)
	FullName    string `json:"full_name"` // canonical EXCHANGE:SYMBOL
	Description string `json:"description,omitempty"`
	Exchange    string `json:"exchange"`
	Type        string `json:"type"`
}

type searchSymbolsData struct {
	Symbols []SymbolSearchResult `json:"symbols"`
	Count   int                  `json:"count"`
}

// SearchSymbolsData builds the terminal SEARCH_SYMBOLS_DATA frame.
func SearchSymbolsData(requestID string, results []SymbolSearchResult) (*Message, error) {
	if results == nil {
		results = []SymbolSearchResult{}
	}
	return dataMessage(TypeSearchSymbolsData, requestID, searchSymbolsData{Symbols: results, Count: len(results)})
}

// SymbolDescriptor is the RESOLVE_SYMBOL_DATA payload, shaped for charting
// symbol resolution.
type SymbolDescriptor struct {
	Name                 string   `json:"name"`
	Ticker               string   `json:"ticker"`
	Description          string   `json:"description,omitempty"`
	Type                 string   `json:"type"`
	Exchange             string   `json:"exchange"`
	Session              string   `json:"session"`
	Timezone             string   `json:"timezone"`
	MinMov               int      `json:"minmov"`
	PriceScale           int64    `json:"pricescale"`
	HasIntraday          bool     `json:"has_intraday"`
	HasDaily             bool     `json:"has_daily"`
	HasWeeklyAndMonthly  bool     `json:"has_weekly_and_monthly"`
	SupportedResolutions []string `json:"supported_resolutions"`
	VolumePrecision      int      `json:"volume_precision"`
	DataStatus           string   `json:"data_status"`
}

// ResolveSymbolData builds the terminal RESOLVE_SYMBOL_DATA frame.
func ResolveSymbolData(requestID string, desc SymbolDescriptor) (*Message, error) {
	return dataMessage(TypeResolveSymbolData, requestID, desc)
}

type strategyMetadataData struct {
	Strategies []models.StrategyMetadata `json:"strategies"`
	Count      int                       `json:"count"`
}

// StrategyMetadataData builds the terminal STRATEGY_METADATA_DATA frame.
func StrategyMetadataData(requestID string, metas []models.StrategyMetadata) (*Message, error) {
	if metas == nil {
		metas = []models.StrategyMetadata{}
	}
	return dataMessage(TypeStrategyMetadataData, requestID, strategyMetadataData{Strategies: metas, Count: len(metas)})
}

type alertConfigData struct {
	Alert *models.AlertConfig `json:"alert"`
}

type alertConfigList struct {
	Alerts []models.AlertConfig `json:"alerts"`
	Count  int                  `json:"count"`
}

type alertConfigDeleted struct {
	ID      uuid.UUID `json:"id"`
	Deleted bool      `json:"deleted"`
}

// AlertConfigData builds the terminal ALERT_CONFIG_DATA frame for one alert.
func AlertConfigData(requestID string, alert *models.AlertConfig) (*Message, error) {
	return dataMessage(TypeAlertConfigData, requestID, alertConfigData{Alert: alert})
}

// AlertConfigList builds the terminal ALERT_CONFIG_DATA frame for a listing.
func AlertConfigList(requestID string, alerts []models.AlertConfig) (*Message, error) {
	if alerts == nil {
		alerts = []models.AlertConfig{}
	}
	return dataMessage(TypeAlertConfigData, requestID, alertConfigList{Alerts: alerts, Count: len(alerts)})
}

// AlertConfigDeleted builds the terminal ALERT_CONFIG_DATA frame confirming
// a deletion.
func AlertConfigDeleted(requestID string, id uuid.UUID) (*Message, error) {
	return dataMessage(TypeAlertConfigData, requestID, alertConfigDeleted{ID: id, Deleted: true})
}

type signalData struct {
	Signals []models.StrategySignal `json:"signals"`
	Count   int                     `json:"count"`
}

// SignalData builds the terminal SIGNAL_DATA frame.
func SignalData(requestID string, signals []models.StrategySignal) (*Message, error) {
	if signals == nil {
		signals = []models.StrategySignal{}
	}
	return dataMessage(TypeSignalData, requestID, signalData{Signals: signals, Count: len(signals)})
}
