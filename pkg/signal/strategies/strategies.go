// Package strategies ships the built-in alert strategies. Each one is pure:
// configured once from params JSON, then evaluated against bar windows.
package strategies

import (
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/signal"
)

// Builtin returns a registry holding every shipped strategy.
func Builtin() *signal.Registry {
	r := signal.NewRegistry()
	r.Register(maCrossDefinition())
	r.Register(rsiThresholdDefinition())
	r.Register(priceThresholdDefinition())
	return r
}

func f64(v float64) *float64 { return &v }

// sma returns the simple moving average of the n closes ending at index end
// (inclusive). Callers guarantee end-n+1 >= 0.
func sma(bars []models.Bar, n, end int) float64 {
	sum := 0.0
	for i := end - n + 1; i <= end; i++ {
		sum += bars[i].Close
	}
	return sum / float64(n)
}
