package strategies

import (
	"encoding/json"
	"fmt"

	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/signal"
)

type maCrossParams struct {
	Fast int `json:"fast"`
	Slow int `json:"slow"`
}

// maCross fires when the fast SMA crosses the slow one: upward cross is
// long, downward is short.
type maCross struct {
	p maCrossParams
}

func maCrossDefinition() signal.Definition {
	return signal.Definition{
		Meta: models.StrategyMetadata{
			StrategyType: "ma_cross",
			Name:         "Moving Average Cross",
			Description:  "Long when the fast SMA crosses above the slow SMA, short on the cross below.",
			Params: []models.ParamSpec{
				{Name: "fast", Type: "int", Required: false, Default: 9, Min: f64(1), Description: "Fast SMA period"},
				{Name: "slow", Type: "int", Required: false, Default: 21, Min: f64(2), Description: "Slow SMA period"},
			},
		},
		New: newMACross,
	}
}

func newMACross(raw json.RawMessage) (signal.Strategy, error) {
	p := maCrossParams{Fast: 9, Slow: 21}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse ma_cross params: %w", err)
		}
	}
	if p.Fast < 1 || p.Slow < 2 {
		return nil, fmt.Errorf("ma_cross periods out of range: fast=%d slow=%d", p.Fast, p.Slow)
	}
	if p.Fast >= p.Slow {
		return nil, fmt.Errorf("ma_cross fast period %d must be below slow period %d", p.Fast, p.Slow)
	}
	return &maCross{p: p}, nil
}

func (s *maCross) Evaluate(bars []models.Bar) (signal.Verdict, error) {
	// One extra bar so the previous SMA pair exists.
	if len(bars) < s.p.Slow+1 {
		return signal.None(), nil
	}
	last := len(bars) - 1

	fastNow := sma(bars, s.p.Fast, last)
	slowNow := sma(bars, s.p.Slow, last)
	fastPrev := sma(bars, s.p.Fast, last-1)
	slowPrev := sma(bars, s.p.Slow, last-1)

	meta := map[string]any{
		"fast": fastNow, "slow": slowNow,
		"fast_period": s.p.Fast, "slow_period": s.p.Slow,
	}
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		return signal.Verdict{
			Signal:   models.SignalLong,
			Reason:   fmt.Sprintf("SMA(%d) crossed above SMA(%d)", s.p.Fast, s.p.Slow),
			Metadata: meta,
		}, nil
	case fastPrev >= slowPrev && fastNow < slowNow:
		return signal.Verdict{
			Signal:   models.SignalShort,
			Reason:   fmt.Sprintf("SMA(%d) crossed below SMA(%d)", s.p.Fast, s.p.Slow),
			Metadata: meta,
		}, nil
	}
	return signal.None(), nil
}
