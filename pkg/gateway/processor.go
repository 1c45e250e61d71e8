package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// rowGetter re-reads rows behind truncated realtime.update envelopes;
// matches store.RealtimeStore.
type rowGetter interface {
	Get(ctx context.Context, key string) (*models.RealtimeRow, error)
}

// Processor is the gateway's notification consumer: it turns envelopes from
// the dispatcher into outbound client traffic. Task envelopes resolve
// through the router; realtime and signal envelopes fan out by key.
type Processor struct {
	subs     *SubscriptionManager
	clients  *ClientManager
	router   *TaskRouter
	realtime rowGetter
	log      *slog.Logger
}

func NewProcessor(subs *SubscriptionManager, clients *ClientManager, router *TaskRouter, realtime rowGetter) *Processor {
	return &Processor{
		subs:     subs,
		clients:  clients,
		router:   router,
		realtime: realtime,
		log:      slog.With("component", "data_processor"),
	}
}

// RegisterHandlers binds the processor to the dispatcher. Call before the
// dispatcher starts.
func (p *Processor) RegisterHandlers(d *events.Dispatcher) {
	d.Handle(events.ChannelTaskCompleted, p.router.HandleCompleted)
	d.Handle(events.ChannelTaskFailed, p.router.HandleFailed)
	d.Handle(events.ChannelRealtimeUpdate, p.handleRealtimeUpdate)
	d.Handle(events.ChannelSignalNew, p.handleSignalNew)
	d.Handle(events.ChannelAlertConfigUpdate, p.handleAlertConfigChange)
	d.Handle(events.ChannelAlertConfigDelete, p.handleAlertConfigChange)
}

// handleRealtimeUpdate fans a tick out to the key's local subscribers.
func (p *Processor) handleRealtimeUpdate(ctx context.Context, env events.Envelope) error {
	var ev events.RealtimeEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}

	targets := p.subs.Subscribers(ev.SubscriptionKey)
	if len(targets) == 0 {
		return nil
	}

	data := ev.Data
	if env.Truncated {
		// The envelope was too big for NOTIFY; the row has the payload.
		row, err := p.realtime.Get(ctx, ev.SubscriptionKey)
		if err != nil {
			return err
		}
		data = row.Data
		ev.DataType = row.DataType
		ev.EventTime = row.EventTime
	}

	msg, err := protocol.Update(ev.SubscriptionKey, ev.DataType, ev.EventTime, data)
	if err != nil {
		return err
	}
	p.clients.SendTo(ctx, targets, msg)
	return nil
}

// handleSignalNew fans a fresh signal out on its synthetic SIGNAL:<id> key.
func (p *Processor) handleSignalNew(ctx context.Context, env events.Envelope) error {
	alertID, err := signalAlertID(env.Data)
	if err != nil {
		return err
	}
	return p.pushSignalUpdate(ctx, alertID, env.Data)
}

// handleAlertConfigChange mirrors alert lifecycle changes to signal
// subscribers, so a UI watching SIGNAL:<id> sees its alert pause or vanish.
func (p *Processor) handleAlertConfigChange(ctx context.Context, env events.Envelope) error {
	var ev events.AlertConfigEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	if ev.ID == uuid.Nil {
		return nil
	}
	return p.pushSignalUpdate(ctx, ev.ID, env.Data)
}

func (p *Processor) pushSignalUpdate(ctx context.Context, alertID uuid.UUID, content json.RawMessage) error {
	key := subkey.SignalKey(alertID)
	targets := p.subs.Subscribers(key)
	if len(targets) == 0 {
		return nil
	}

	msg, err := protocol.Update(key, "", 0, content)
	if err != nil {
		return err
	}
	p.clients.SendTo(ctx, targets, msg)
	return nil
}

// signalAlertID pulls alert_id out of a signal.new row snapshot.
func signalAlertID(data json.RawMessage) (uuid.UUID, error) {
	var row struct {
		AlertID uuid.UUID `json:"alert_id"`
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return uuid.Nil, err
	}
	return row.AlertID, nil
}
