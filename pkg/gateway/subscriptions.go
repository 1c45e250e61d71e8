package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/events"
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// realtimeStore is the slice of store.RealtimeStore the manager needs.
type realtimeStore interface {
	AddSubscriber(ctx context.Context, key, dataType, label string) error
	RemoveSubscriber(ctx context.Context, key, label string) (bool, error)
	ScrubSubscriber(ctx context.Context, label string) (int64, error)
}

// cleanPublisher emits the gateway's subscription.clean after startup scrub.
type cleanPublisher interface {
	Publish(ctx context.Context, channel, eventType string, data any) error
}

// SubscriptionManager tracks which client wants which subscription key and
// keeps the realtime_data subscriber arrays in step. The in-memory maps are
// authoritative for this process; the rows are authoritative for upstream
// demand across processes.
//
// Signal keys (SIGNAL:<alert-id>) are tracked in the maps only: their
// fan-out source is the signal.new channel, not a realtime_data row.
type SubscriptionManager struct {
	realtime  realtimeStore
	publisher cleanPublisher
	log       *slog.Logger

	mu       sync.Mutex
	byKey    map[string]map[uuid.UUID]struct{}
	byClient map[uuid.UUID]map[string]struct{}
}

func NewSubscriptionManager(realtime realtimeStore, publisher cleanPublisher) *SubscriptionManager {
	return &SubscriptionManager{
		realtime:  realtime,
		publisher: publisher,
		log:       slog.With("component", "subscription_manager"),
		byKey:     make(map[string]map[uuid.UUID]struct{}),
		byClient:  make(map[uuid.UUID]map[string]struct{}),
	}
}

// StartupScrub clears this gateway's subscriber label from every row left
// behind by a previous run, then tells the exchange worker to reset its
// upstream stream. Other services' subscriptions are untouched, which is
// why this is a scoped scrub and not a TRUNCATE.
func (m *SubscriptionManager) StartupScrub(ctx context.Context) error {
	deleted, err := m.realtime.ScrubSubscriber(ctx, models.SubscriberAPIService)
	if err != nil {
		return fmt.Errorf("scrub stale subscriptions: %w", err)
	}
	m.log.Info("Cleared stale gateway subscriptions", "rows_deleted", deleted)

	err = m.publisher.Publish(ctx, events.ChannelSubscriptionClean, events.ChannelSubscriptionClean,
		events.SubscriptionEvent{Action: events.CleanAll})
	if err != nil {
		return fmt.Errorf("publish subscription.clean: %w", err)
	}
	return nil
}

// Subscribe adds the client to each key. The first local subscriber of a
// market key upserts the realtime_data row, which fires subscription.add
// when the row is new. Keys must be pre-validated by the protocol layer.
func (m *SubscriptionManager) Subscribe(ctx context.Context, clientID uuid.UUID, keys []string) error {
	for _, raw := range keys {
		canonical, dataType, isSignal, err := canonicalizeKey(raw)
		if err != nil {
			return err
		}

		m.mu.Lock()
		first := m.addLocked(clientID, canonical)
		m.mu.Unlock()

		if !first || isSignal {
			continue
		}

		if err := m.realtime.AddSubscriber(ctx, canonical, dataType, models.SubscriberAPIService); err != nil {
			// Roll the map entry back so a retry re-attempts the row write.
			m.mu.Lock()
			m.removeLocked(clientID, canonical)
			m.mu.Unlock()
			return err
		}
	}
	return nil
}

// Unsubscribe removes the client from each key. The last local subscriber
// of a market key drops the gateway's label from the row; a drained row is
// deleted and fires subscription.remove.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, clientID uuid.UUID, keys []string) error {
	for _, raw := range keys {
		canonical, _, isSignal, err := canonicalizeKey(raw)
		if err != nil {
			return err
		}

		m.mu.Lock()
		last := m.removeLocked(clientID, canonical)
		m.mu.Unlock()

		if !last || isSignal {
			continue
		}

		if _, err := m.realtime.RemoveSubscriber(ctx, canonical, models.SubscriberAPIService); err != nil {
			return err
		}
	}
	return nil
}

// DropClient unsubscribes a disconnected client from everything it held.
// Row cleanup failures are logged, not returned: the client is already
// gone and the startup scrub is the backstop.
func (m *SubscriptionManager) DropClient(ctx context.Context, clientID uuid.UUID) {
	m.mu.Lock()
	keys := m.byClient[clientID]
	delete(m.byClient, clientID)

	var drained []string
	for key := range keys {
		set := m.byKey[key]
		delete(set, clientID)
		if len(set) == 0 {
			delete(m.byKey, key)
			if !subkey.IsSignalKey(key) {
				drained = append(drained, key)
			}
		}
	}
	m.mu.Unlock()

	for _, key := range drained {
		if _, err := m.realtime.RemoveSubscriber(ctx, key, models.SubscriberAPIService); err != nil {
			m.log.Error("Failed to release drained subscription",
				"key", key, "client_id", clientID, "error", err)
		}
	}
}

// Subscribers returns the clients currently holding a key.
func (m *SubscriptionManager) Subscribers(key string) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.byKey[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Snapshot lists a client's keys, sorted for stable responses.
func (m *SubscriptionManager) Snapshot(clientID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.byClient[clientID]
	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// addLocked records the pair and reports whether the client is the key's
// first local subscriber.
func (m *SubscriptionManager) addLocked(clientID uuid.UUID, key string) bool {
	set, ok := m.byKey[key]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m.byKey[key] = set
	}
	first := len(set) == 0
	set[clientID] = struct{}{}

	clientKeys, ok := m.byClient[clientID]
	if !ok {
		clientKeys = make(map[string]struct{})
		m.byClient[clientID] = clientKeys
	}
	clientKeys[key] = struct{}{}
	return first
}

// removeLocked forgets the pair and reports whether the client was the
// key's last local subscriber.
func (m *SubscriptionManager) removeLocked(clientID uuid.UUID, key string) bool {
	set, ok := m.byKey[key]
	if !ok {
		return false
	}
	if _, held := set[clientID]; !held {
		return false
	}
	delete(set, clientID)
	last := len(set) == 0
	if last {
		delete(m.byKey, key)
	}

	if clientKeys, ok := m.byClient[clientID]; ok {
		delete(clientKeys, key)
		if len(clientKeys) == 0 {
			delete(m.byClient, clientID)
		}
	}
	return last
}

// canonicalizeKey normalizes raw to its canonical form so map entries and
// notification keys always agree.
func canonicalizeKey(raw string) (canonical, dataType string, isSignal bool, err error) {
	if subkey.IsSignalKey(raw) {
		id, err := subkey.ParseSignalKey(raw)
		if err != nil {
			return "", "", false, err
		}
		return subkey.SignalKey(id), "", true, nil
	}
	k, err := subkey.Parse(raw)
	if err != nil {
		return "", "", false, err
	}
	return k.String(), string(k.DataType), false, nil
}
