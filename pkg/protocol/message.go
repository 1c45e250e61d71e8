// Package protocol implements the client-facing WebSocket wire format:
// versioned JSON envelopes, camelCase field names, and the three-phase
// request flow (ACK, then exactly one typed *_DATA or ERROR per request;
// unsolicited pushes travel as UPDATE).
//
// Internal representations are snake_case; this package owns every
// conversion between the two worlds.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the only protocol version this server speaks. Requests
// carrying anything else are rejected with UNSUPPORTED_PROTOCOL.
const Version = "2.0"

// Inbound message types.
const (
	TypeGetConfig                 = "GET_CONFIG"
	TypeGetSearchSymbols          = "GET_SEARCH_SYMBOLS"
	TypeGetResolveSymbol          = "GET_RESOLVE_SYMBOL"
	TypeGetKlines                 = "GET_KLINES"
	TypeGetQuotes                 = "GET_QUOTES"
	TypeGetServerTime             = "GET_SERVER_TIME"
	TypeGetSpotAccount            = "GET_SPOT_ACCOUNT"
	TypeGetFuturesAccount         = "GET_FUTURES_ACCOUNT"
	TypeSubscribe                 = "SUBSCRIBE"
	TypeUnsubscribe               = "UNSUBSCRIBE"
	TypeGetSubscriptions          = "GET_SUBSCRIPTIONS"
	TypeGetStrategyMetadata       = "GET_STRATEGY_METADATA"
	TypeGetStrategyMetadataByType = "GET_STRATEGY_METADATA_BY_TYPE"
	TypeCreateAlertConfig         = "CREATE_ALERT_CONFIG"
	TypeUpdateAlertConfig         = "UPDATE_ALERT_CONFIG"
	TypeDeleteAlertConfig         = "DELETE_ALERT_CONFIG"
	TypeGetAlertConfig            = "GET_ALERT_CONFIG"
	TypeListAlertConfigs          = "LIST_ALERT_CONFIGS"
	TypeEnableAlertConfig         = "ENABLE_ALERT_CONFIG"
	TypeDisableAlertConfig        = "DISABLE_ALERT_CONFIG"
	TypeListSignals               = "LIST_SIGNALS"
)

// Outbound message types.
const (
	TypeAck                  = "ACK"
	TypeError                = "ERROR"
	TypeUpdate               = "UPDATE"
	TypeConfigData           = "CONFIG_DATA"
	TypeSearchSymbolsData    = "SEARCH_SYMBOLS_DATA"
	TypeResolveSymbolData    = "RESOLVE_SYMBOL_DATA"
	TypeKlinesData           = "KLINES_DATA"
	TypeQuotesData           = "QUOTES_DATA"
	TypeServerTimeData       = "SERVER_TIME_DATA"
	TypeAccountData          = "ACCOUNT_DATA"
	TypeSubscriptionData     = "SUBSCRIPTION_DATA"
	TypeStrategyMetadataData = "STRATEGY_METADATA_DATA"
	TypeAlertConfigData      = "ALERT_CONFIG_DATA"
	TypeSignalData           = "SIGNAL_DATA"
)

// ErrorCode identifies a wire-level failure class.
type ErrorCode string

const (
	ErrCodeInvalidRequest         ErrorCode = "INVALID_REQUEST"
	ErrCodeUnknownRequestType     ErrorCode = "UNKNOWN_REQUEST_TYPE"
	ErrCodeUnsupportedProtocol    ErrorCode = "UNSUPPORTED_PROTOCOL"
	ErrCodeInvalidSubscriptionKey ErrorCode = "INVALID_SUBSCRIPTION_KEY"
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeTimeout                ErrorCode = "TIMEOUT"
	ErrCodeTaskFailed             ErrorCode = "TASK_FAILED"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
	ErrCodeRateLimited            ErrorCode = "RATE_LIMITED"
)

// Message is the wire envelope for every frame in both directions.
// RequestID is empty (absent on the wire) for UPDATE pushes and for errors
// raised before a requestId could be parsed.
type Message struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Type            string          `json:"type"`
	RequestID       string          `json:"requestId,omitempty"`
	Timestamp       int64           `json:"timestamp"` // ms since epoch
	Data            json.RawMessage `json:"data,omitempty"`
}

// Encode marshals the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return b, nil
}

// WireError is a protocol-level failure that maps directly onto an ERROR
// frame. It satisfies error so decode paths can return it.
type WireError struct {
	Code      ErrorCode
	Message   string
	RequestID string
}

func (e *WireError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewWireError builds a WireError bound to a request.
func NewWireError(requestID string, code ErrorCode, format string, args ...any) *WireError {
	return &WireError{Code: code, Message: fmt.Sprintf(format, args...), RequestID: requestID}
}

func newMessage(msgType, requestID string, data json.RawMessage) *Message {
	return &Message{
		ProtocolVersion: Version,
		Type:            msgType,
		RequestID:       requestID,
		Timestamp:       time.Now().UnixMilli(),
		Data:            data,
	}
}
