package strategies

import (
	"encoding/json"
	"fmt"

	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/signal"
)

type priceThresholdParams struct {
	Upper *float64 `json:"upper,omitempty"`
	Lower *float64 `json:"lower,omitempty"`
}

// priceThreshold fires on the latest close breaking a configured bound:
// above the upper bound is long, below the lower bound is short. At least
// one bound must be set.
type priceThreshold struct {
	p priceThresholdParams
}

func priceThresholdDefinition() signal.Definition {
	return signal.Definition{
		Meta: models.StrategyMetadata{
			StrategyType: "price_threshold",
			Name:         "Price Threshold",
			Description:  "Long when the close reaches the upper bound, short when it reaches the lower bound.",
			Params: []models.ParamSpec{
				{Name: "upper", Type: "float", Required: false, Min: f64(0), Description: "Long at or above this close"},
				{Name: "lower", Type: "float", Required: false, Min: f64(0), Description: "Short at or below this close"},
			},
		},
		New: newPriceThreshold,
	}
}

func newPriceThreshold(raw json.RawMessage) (signal.Strategy, error) {
	var p priceThresholdParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse price_threshold params: %w", err)
		}
	}
	if p.Upper == nil && p.Lower == nil {
		return nil, fmt.Errorf("price_threshold needs at least one of upper or lower")
	}
	if p.Upper != nil && p.Lower != nil && *p.Lower >= *p.Upper {
		return nil, fmt.Errorf("price_threshold lower %v must be below upper %v", *p.Lower, *p.Upper)
	}
	return &priceThreshold{p: p}, nil
}

func (s *priceThreshold) Evaluate(bars []models.Bar) (signal.Verdict, error) {
	if len(bars) == 0 {
		return signal.None(), nil
	}
	last := bars[len(bars)-1].Close

	if s.p.Upper != nil && last >= *s.p.Upper {
		return signal.Verdict{
			Signal:   models.SignalLong,
			Reason:   fmt.Sprintf("close %v reached upper bound %v", last, *s.p.Upper),
			Metadata: map[string]any{"close": last, "upper": *s.p.Upper},
		}, nil
	}
	if s.p.Lower != nil && last <= *s.p.Lower {
		return signal.Verdict{
			Signal:   models.SignalShort,
			Reason:   fmt.Sprintf("close %v reached lower bound %v", last, *s.p.Lower),
			Metadata: map[string]any{"close": last, "lower": *s.p.Lower},
		}, nil
	}
	return signal.None(), nil
}
