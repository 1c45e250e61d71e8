package strategies

import (
	"encoding/json"
	"fmt"

	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/signal"
)

type rsiThresholdParams struct {
	Period     int     `json:"period"`
	Overbought float64 `json:"overbought"`
	Oversold   float64 `json:"oversold"`
}

// rsiThreshold fires when Wilder's RSI leaves the neutral band: oversold is
// long, overbought is short.
type rsiThreshold struct {
	p rsiThresholdParams
}

func rsiThresholdDefinition() signal.Definition {
	return signal.Definition{
		Meta: models.StrategyMetadata{
			StrategyType: "rsi_threshold",
			Name:         "RSI Threshold",
			Description:  "Long when RSI drops to the oversold bound, short when it reaches the overbought bound.",
			Params: []models.ParamSpec{
				{Name: "period", Type: "int", Required: false, Default: 14, Min: f64(2), Description: "RSI lookback period"},
				{Name: "overbought", Type: "float", Required: false, Default: 70, Min: f64(50), Max: f64(100), Description: "Short above this RSI"},
				{Name: "oversold", Type: "float", Required: false, Default: 30, Min: f64(0), Max: f64(50), Description: "Long below this RSI"},
			},
		},
		New: newRSIThreshold,
	}
}

func newRSIThreshold(raw json.RawMessage) (signal.Strategy, error) {
	p := rsiThresholdParams{Period: 14, Overbought: 70, Oversold: 30}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse rsi_threshold params: %w", err)
		}
	}
	if p.Period < 2 {
		return nil, fmt.Errorf("rsi_threshold period %d out of range", p.Period)
	}
	if p.Oversold < 0 || p.Overbought > 100 || p.Oversold >= p.Overbought {
		return nil, fmt.Errorf("rsi_threshold bounds out of range: oversold=%v overbought=%v", p.Oversold, p.Overbought)
	}
	return &rsiThreshold{p: p}, nil
}

func (s *rsiThreshold) Evaluate(bars []models.Bar) (signal.Verdict, error) {
	rsi, ok := wilderRSI(bars, s.p.Period)
	if !ok {
		return signal.None(), nil
	}

	meta := map[string]any{"rsi": rsi, "period": s.p.Period}
	switch {
	case rsi <= s.p.Oversold:
		return signal.Verdict{
			Signal:   models.SignalLong,
			Reason:   fmt.Sprintf("RSI(%d) %.2f at or below oversold %.2f", s.p.Period, rsi, s.p.Oversold),
			Metadata: meta,
		}, nil
	case rsi >= s.p.Overbought:
		return signal.Verdict{
			Signal:   models.SignalShort,
			Reason:   fmt.Sprintf("RSI(%d) %.2f at or above overbought %.2f", s.p.Period, rsi, s.p.Overbought),
			Metadata: meta,
		}, nil
	}
	return signal.None(), nil
}

// wilderRSI computes the smoothed RSI over the full window, seeded with a
// simple average of the first period's moves.
func wilderRSI(bars []models.Bar, period int) (float64, bool) {
	if len(bars) < period+1 {
		return 0, false
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := bars[i].Close - bars[i-1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(bars); i++ {
		d := bars[i].Close - bars[i-1].Close
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}
