package protocol

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// Request is a decoded inbound frame, payload still raw. Bind the payload
// with the typed accessors below.
type Request struct {
	Type      string
	RequestID string
	Data      json.RawMessage
}

// knownRequestTypes gates DecodeRequest; anything else is
// UNKNOWN_REQUEST_TYPE.
var knownRequestTypes = map[string]bool{
	TypeGetConfig:                 true,
	TypeGetSearchSymbols:          true,
	TypeGetResolveSymbol:          true,
	TypeGetKlines:                 true,
	TypeGetQuotes:                 true,
	TypeGetServerTime:             true,
	TypeGetSpotAccount:            true,
	TypeGetFuturesAccount:         true,
	TypeSubscribe:                 true,
	TypeUnsubscribe:               true,
	TypeGetSubscriptions:          true,
	TypeGetStrategyMetadata:       true,
	TypeGetStrategyMetadataByType: true,
	TypeCreateAlertConfig:         true,
	TypeUpdateAlertConfig:         true,
	TypeDeleteAlertConfig:         true,
	TypeGetAlertConfig:            true,
	TypeListAlertConfigs:          true,
	TypeEnableAlertConfig:         true,
	TypeDisableAlertConfig:        true,
	TypeListSignals:               true,
}

// DecodeRequest parses and gates one inbound frame. Failures come back as
// *WireError carrying the code and whatever requestId could be recovered,
// ready to turn into an ERROR frame.
func DecodeRequest(raw []byte) (*Request, *WireError) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, NewWireError("", ErrCodeInvalidRequest, "malformed JSON: %v", err)
	}
	if msg.ProtocolVersion != Version {
		return nil, NewWireError(msg.RequestID, ErrCodeUnsupportedProtocol,
			"protocol version %q not supported, want %q", msg.ProtocolVersion, Version)
	}
	if msg.Type == "" {
		return nil, NewWireError(msg.RequestID, ErrCodeInvalidRequest, "missing type")
	}
	if !knownRequestTypes[msg.Type] {
		return nil, NewWireError(msg.RequestID, ErrCodeUnknownRequestType, "unknown request type %q", msg.Type)
	}
	if msg.RequestID == "" {
		return nil, NewWireError("", ErrCodeInvalidRequest, "missing requestId")
	}
	return &Request{Type: msg.Type, RequestID: msg.RequestID, Data: msg.Data}, nil
}

func (r *Request) bind(dst any) *WireError {
	if len(r.Data) == 0 {
		return NewWireError(r.RequestID, ErrCodeInvalidRequest, "%s requires a data payload", r.Type)
	}
	if err := json.Unmarshal(r.Data, dst); err != nil {
		return NewWireError(r.RequestID, ErrCodeInvalidRequest, "invalid %s payload: %v", r.Type, err)
	}
	return nil
}

// KlinesRequest is the GET_KLINES payload.
type KlinesRequest struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	FromTime int64  `json:"fromTime"`
	ToTime   int64  `json:"toTime"`
	Limit    int    `json:"limit,omitempty"`
}

// Klines binds and validates a GET_KLINES payload.
func (r *Request) Klines() (*KlinesRequest, *WireError) {
	var req KlinesRequest
	if werr := r.bind(&req); werr != nil {
		return nil, werr
	}
	if req.Symbol == "" {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "symbol is required")
	}
	if _, _, _, err := subkey.SplitCanonicalSymbol(req.Symbol); err != nil {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "%v", err)
	}
	if !subkey.ValidInterval(req.Interval) {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "unknown interval %q", req.Interval)
	}
	if req.FromTime <= 0 || req.ToTime <= 0 || req.ToTime < req.FromTime {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "fromTime/toTime range is invalid")
	}
	return &req, nil
}

// QuotesRequest is the GET_QUOTES payload.
type QuotesRequest struct {
	Symbols    []string `json:"symbols"`
	MarketType string   `json:"marketType,omitempty"`
}

// Quotes binds and validates a GET_QUOTES payload.
func (r *Request) Quotes() (*QuotesRequest, *WireError) {
	var req QuotesRequest
	if werr := r.bind(&req); werr != nil {
		return nil, werr
	}
	if len(req.Symbols) == 0 {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "symbols must not be empty")
	}
	for _, s := range req.Symbols {
		if _, _, _, err := subkey.SplitCanonicalSymbol(s); err != nil {
			return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "%v", err)
		}
	}
	switch req.MarketType {
	case "", subkey.MarketSpot, subkey.MarketFutures:
	default:
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "unknown marketType %q", req.MarketType)
	}
	return &req, nil
}

// SearchSymbolsRequest is the GET_SEARCH_SYMBOLS payload.
type SearchSymbolsRequest struct {
	Query      string `json:"query"`
	Exchange   string `json:"exchange,omitempty"`
	SymbolType string `json:"symbolType,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// SearchSymbols binds a GET_SEARCH_SYMBOLS payload.
func (r *Request) SearchSymbols() (*SearchSymbolsRequest, *WireError) {
	var req SearchSymbolsRequest
	if werr := r.bind(&req); werr != nil {
		return nil, werr
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return &req, nil
}

// ResolveSymbolRequest is the GET_RESOLVE_SYMBOL payload.
type ResolveSymbolRequest struct {
	Symbol string `json:"symbol"`
}

// ResolveSymbol binds and validates a GET_RESOLVE_SYMBOL payload.
func (r *Request) ResolveSymbol() (*ResolveSymbolRequest, *WireError) {
	var req ResolveSymbolRequest
	if werr := r.bind(&req); werr != nil {
		return nil, werr
	}
	if req.Symbol == "" {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "symbol is required")
	}
	return &req, nil
}

// SubscriptionRequest is the SUBSCRIBE / UNSUBSCRIBE payload.
type SubscriptionRequest struct {
	Keys []string `json:"keys"`
}

// Subscriptions binds and validates a SUBSCRIBE/UNSUBSCRIBE payload. Keys
// are validated here so the manager only ever sees well-formed ones.
func (r *Request) Subscriptions() (*SubscriptionRequest, *WireError) {
	var req SubscriptionRequest
	if werr := r.bind(&req); werr != nil {
		return nil, werr
	}
	if len(req.Keys) == 0 {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "keys must not be empty")
	}
	for _, k := range req.Keys {
		if subkey.IsSignalKey(k) {
			if _, err := subkey.ParseSignalKey(k); err != nil {
				return nil, NewWireError(r.RequestID, ErrCodeInvalidSubscriptionKey, "%v", err)
			}
			continue
		}
		if _, err := subkey.Parse(k); err != nil {
			return nil, NewWireError(r.RequestID, ErrCodeInvalidSubscriptionKey, "%v", err)
		}
	}
	return &req, nil
}

// StrategyMetadataRequest is the GET_STRATEGY_METADATA_BY_TYPE payload.
type StrategyMetadataRequest struct {
	StrategyType string `json:"strategyType"`
}

// StrategyMetadataByType binds a GET_STRATEGY_METADATA_BY_TYPE payload.
func (r *Request) StrategyMetadataByType() (*StrategyMetadataRequest, *WireError) {
	var req StrategyMetadataRequest
	if werr := r.bind(&req); werr != nil {
		return nil, werr
	}
	if req.StrategyType == "" {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "strategyType is required")
	}
	return &req, nil
}

// CreateAlertRequest is the CREATE_ALERT_CONFIG payload. Params arrive
// camelCase and are snaked before storage.
type CreateAlertRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	StrategyType string          `json:"strategyType"`
	Symbol       string          `json:"symbol"`
	Interval     string          `json:"interval"`
	TriggerType  string          `json:"triggerType"`
	Params       json.RawMessage `json:"params,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
}

// CreateAlert binds and validates a CREATE_ALERT_CONFIG payload.
func (r *Request) CreateAlert() (*CreateAlertRequest, *WireError) {
	var req CreateAlertRequest
	if werr := r.bind(&req); werr != nil {
		return nil, werr
	}
	if req.Name == "" || req.StrategyType == "" {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "name and strategyType are required")
	}
	if _, _, _, err := subkey.SplitCanonicalSymbol(req.Symbol); err != nil {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "%v", err)
	}
	if !subkey.ValidInterval(req.Interval) {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "unknown interval %q", req.Interval)
	}
	if !models.ValidTriggerType(models.TriggerType(req.TriggerType)) {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "unknown triggerType %q", req.TriggerType)
	}
	return &req, nil
}

// UpdateAlertRequest is the UPDATE_ALERT_CONFIG payload; nil fields stay
// untouched.
type UpdateAlertRequest struct {
	ID          string           `json:"id"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Symbol      *string          `json:"symbol,omitempty"`
	Interval    *string          `json:"interval,omitempty"`
	TriggerType *string          `json:"triggerType,omitempty"`
	Params      *json.RawMessage `json:"params,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"`
}

// UpdateAlert binds and validates an UPDATE_ALERT_CONFIG payload.
func (r *Request) UpdateAlert() (*UpdateAlertRequest, uuid.UUID, *WireError) {
	var req UpdateAlertRequest
	if werr := r.bind(&req); werr != nil {
		return nil, uuid.Nil, werr
	}
	id, werr := parseAlertID(r.RequestID, req.ID)
	if werr != nil {
		return nil, uuid.Nil, werr
	}
	if req.Symbol != nil {
		if _, _, _, err := subkey.SplitCanonicalSymbol(*req.Symbol); err != nil {
			return nil, uuid.Nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "%v", err)
		}
	}
	if req.Interval != nil && !subkey.ValidInterval(*req.Interval) {
		return nil, uuid.Nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "unknown interval %q", *req.Interval)
	}
	if req.TriggerType != nil && !models.ValidTriggerType(models.TriggerType(*req.TriggerType)) {
		return nil, uuid.Nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "unknown triggerType %q", *req.TriggerType)
	}
	return &req, id, nil
}

// AlertIDRequest is the payload of DELETE/GET/ENABLE/DISABLE_ALERT_CONFIG.
type AlertIDRequest struct {
	ID string `json:"id"`
}

// AlertID binds an id-only alert payload.
func (r *Request) AlertID() (uuid.UUID, *WireError) {
	var req AlertIDRequest
	if werr := r.bind(&req); werr != nil {
		return uuid.Nil, werr
	}
	return parseAlertID(r.RequestID, req.ID)
}

func parseAlertID(requestID, raw string) (uuid.UUID, *WireError) {
	if raw == "" {
		return uuid.Nil, NewWireError(requestID, ErrCodeInvalidRequest, "id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewWireError(requestID, ErrCodeInvalidRequest, "invalid alert id %q", raw)
	}
	return id, nil
}

// ListAlertsRequest is the LIST_ALERT_CONFIGS payload.
type ListAlertsRequest struct {
	EnabledOnly bool   `json:"enabledOnly,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
}

// ListAlerts binds a LIST_ALERT_CONFIGS payload; an absent payload lists
// everything.
func (r *Request) ListAlerts() (*ListAlertsRequest, *WireError) {
	var req ListAlertsRequest
	if len(r.Data) == 0 {
		return &req, nil
	}
	if err := json.Unmarshal(r.Data, &req); err != nil {
		return nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "invalid %s payload: %v", r.Type, err)
	}
	return &req, nil
}

// ListSignalsRequest is the LIST_SIGNALS payload.
type ListSignalsRequest struct {
	AlertID  string `json:"alertId,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	FromTime int64  `json:"fromTime,omitempty"`
}

// ListSignals binds and validates a LIST_SIGNALS payload.
func (r *Request) ListSignals() (*ListSignalsRequest, uuid.UUID, *WireError) {
	var req ListSignalsRequest
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &req); err != nil {
			return nil, uuid.Nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "invalid %s payload: %v", r.Type, err)
		}
	}
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 100
	}
	alertID := uuid.Nil
	if req.AlertID != "" {
		id, err := uuid.Parse(req.AlertID)
		if err != nil {
			return nil, uuid.Nil, NewWireError(r.RequestID, ErrCodeInvalidRequest, "invalid alert id %q", req.AlertID)
		}
		alertID = id
	}
	return &req, alertID, nil
}
