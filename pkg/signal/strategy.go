// Package signal is the alert evaluation service: it mirrors enabled alert
// configs, keeps a warm kline cache per watched series, and runs each
// alert's strategy against the flow of realtime updates, persisting long or
// short verdicts as signal rows.
package signal

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tickwire/tickwire/pkg/models"
)

// Verdict is one strategy evaluation result. A none signal means the
// strategy has nothing to say; it is never persisted.
type Verdict struct {
	Signal   models.SignalValue
	Reason   string
	Metadata map[string]any
}

// None builds the empty verdict.
func None() Verdict {
	return Verdict{Signal: models.SignalNone}
}

// Strategy evaluates one series. Bars arrive ascending and contiguous, the
// last bar possibly still open. Implementations must be pure: no state
// between calls, everything derived from params and bars.
type Strategy interface {
	Evaluate(bars []models.Bar) (Verdict, error)
}

// Factory builds a strategy instance from stored alert params.
type Factory func(params json.RawMessage) (Strategy, error)

// Definition couples a strategy's catalog entry with its factory.
type Definition struct {
	Meta models.StrategyMetadata
	New  Factory
}

// Registry is the catalog of available strategies. The engine builds
// instances from it and publishes its metadata for clients.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Duplicate strategy types panic: they are a
// wiring bug, not a runtime condition.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.Meta.StrategyType == "" || def.New == nil {
		panic("signal: incomplete strategy definition")
	}
	if _, dup := r.defs[def.Meta.StrategyType]; dup {
		panic(fmt.Sprintf("signal: strategy %q registered twice", def.Meta.StrategyType))
	}
	r.defs[def.Meta.StrategyType] = def
}

// New instantiates a strategy with the given params.
func (r *Registry) New(strategyType string, params json.RawMessage) (Strategy, error) {
	r.mu.RLock()
	def, ok := r.defs[strategyType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", strategyType)
	}
	s, err := def.New(params)
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", strategyType, err)
	}
	return s, nil
}

// Descriptors returns every catalog entry, sorted by type.
func (r *Registry) Descriptors() []models.StrategyMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.StrategyMetadata, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyType < out[j].StrategyType })
	return out
}
