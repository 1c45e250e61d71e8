package models

import (
	"encoding/json"
	"time"
)

// AccountSnapshot mirrors an account_info row: the latest signed account
// state per market type, stored verbatim as the adapter returned it.
type AccountSnapshot struct {
	AccountType string          `json:"account_type"` // SPOT or FUTURES
	Data        json.RawMessage `json:"data"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
