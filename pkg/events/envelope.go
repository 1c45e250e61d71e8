package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the standard notification wrapper built by the SQL
// notify_event function and by Publisher. Truncated envelopes had their
// heavy data fields stripped to fit the NOTIFY size limit; the handler
// must re-read the underlying row.
type Envelope struct {
	EventID   uuid.UUID       `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Truncated bool            `json:"truncated,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a raw NOTIFY payload.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode notification envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("notification envelope missing event_type")
	}
	return env, nil
}

// Bind unmarshals the envelope data into dst.
func (e Envelope) Bind(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s event data: %w", e.EventType, err)
	}
	return nil
}
