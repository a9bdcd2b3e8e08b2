package capital

import (
	"fmt"

	"titan/internal/signal"
)

// DefaultVolatilityK is the §4.8 scaling constant k applied in both
// quantity and leverage transforms.
const DefaultVolatilityK = 1.0

// DefaultMaxLeverage bounds the leverage the Volatility Scaler will
// ever allow, before the Morphic Adapter applies its own mode cap.
const DefaultMaxLeverage = 10.0

// VolatilityScaler is the §4.8 pair of pre-Router transforms: it
// scales quantity down and caps leverage as volatility rises.
// Contextual Leverage Limiter and Volatility Scaler are specified as
// two collaborating transforms over the same (quantity, leverage)
// pair; they are implemented here as one stage since they share their
// single input (volatility) and apply in the same pipeline position.
type VolatilityScaler struct {
	k          float64
	maxLeverage float64
	volatility func(symbol string) float64
}

// NewVolatilityScaler constructs a VolatilityScaler. volatility
// supplies the current [0,1] volatility estimate for a symbol; k and
// maxLeverage fall back to the package defaults when zero.
func NewVolatilityScaler(k, maxLeverage float64, volatility func(symbol string) float64) *VolatilityScaler {
	if k <= 0 {
		k = DefaultVolatilityK
	}
	if maxLeverage <= 0 {
		maxLeverage = DefaultMaxLeverage
	}
	return &VolatilityScaler{k: k, maxLeverage: maxLeverage, volatility: volatility}
}

// Apply scales s's quantity by (1 - volatility*k) and caps leverage at
// maxLeverage*(1 - volatility*k), per §4.8's worked formulas. volatility
// is clamped to [0,1] before use so a misbehaving upstream estimator
// cannot invert the transform (negative quantity) or produce a
// negative leverage cap.
func (v *VolatilityScaler) Apply(s signal.Signal) signal.Signal {
	vol := v.volatility(s.Symbol)
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}

	factor := 1 - vol*v.k
	if factor < 0 {
		factor = 0
	}

	out := s.Derive()
	out.Quantity = s.Quantity * factor

	leverageCap := v.maxLeverage * factor
	if s.Leverage != nil {
		lev := *s.Leverage
		if lev > leverageCap {
			lev = leverageCap
		}
		out.Leverage = &lev
	} else if leverageCap < v.maxLeverage {
		out.Leverage = &leverageCap
	}

	return out.WithVerdict("volatility_scaler", signal.VerdictPass,
		fmt.Sprintf("volatility=%.3f factor=%.3f", vol, factor))
}
