package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxNotifyPayload mirrors the limit in the notify_event() SQL function.
// PostgreSQL rejects NOTIFY payloads near 8000 bytes; both sides truncate
// below that and flag the envelope so consumers re-read the row.
const maxNotifyPayload = 7900

// truncatableKeys are the bulky fields stripped from an oversize payload.
var truncatableKeys = []string{"result", "data", "payload"}

// Publisher emits application-originated notifications (those not produced
// by table triggers) through pg_notify on the shared query pool.
type Publisher struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPublisher(pool *pgxpool.Pool) *Publisher {
	return &Publisher{
		pool: pool,
		log:  slog.With("component", "event_publisher"),
	}
}

// Publish wraps data in the standard envelope and NOTIFYs the channel.
// eventType conventionally equals the channel name.
func (p *Publisher) Publish(ctx context.Context, channel, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	env := Envelope{
		EventID:   uuid.New(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	if len(payload) > maxNotifyPayload {
		env.Data = stripBulkyKeys(raw)
		env.Truncated = true
		payload, err = json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal truncated envelope: %w", err)
		}
		p.log.Warn("Truncated oversize notification",
			"channel", channel, "event_id", env.EventID)
	}

	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return nil
}

// stripBulkyKeys removes the large well-known fields from a JSON object,
// matching what notify_event() does with the '-' jsonb operator. Non-object
// data is replaced wholesale.
func stripBulkyKeys(raw json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return json.RawMessage(`{}`)
	}
	for _, k := range truncatableKeys {
		delete(obj, k)
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}
