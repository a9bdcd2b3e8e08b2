package mode

import (
	"context"
	"time"

	"titan/internal/envconfig"
	"titan/internal/errkind"
)

// SignalFields is the subset of a pipeline signal the Morphic Adapter
// reads and scales (§4.6); internal/signal's Signal type converts to
// and from this at the adapter pipeline stage.
type SignalFields struct {
	Confidence float64
	Leverage   float64
	TTL        time.Duration

	// Adapted marks fields that have already been scaled by one Apply
	// call. Apply short-circuits when it is already set, so re-running
	// the adapter on its own output reproduces that output rather than
	// compounding the mode multipliers a second time (§8 Testable
	// Property: applying the adapter twice equals applying it once).
	Adapted bool
}

// Adapter is the §4.7 pipeline stage #8: it reads the tenant's current
// mode from the bus (via the Governor) and scales a signal's
// confidence, leverage, and TTL according to that mode's Cap. It runs
// after the Overlap Resolver and before the Context Window Filter and
// the Router, so policy caps are authoritative over whatever earlier
// stages computed.
type Adapter struct {
	governor *Governor
}

// NewAdapter constructs an Adapter reading mode state through governor.
func NewAdapter(governor *Governor) *Adapter {
	return &Adapter{governor: governor}
}

// Apply scales f according to tenantID's active mode. A confidence
// below the mode's MinConfidence is a policy rejection
// (errkind.PolicyViolation), matching the Testable Properties example
// of a signal dropped under alpha_push for insufficient confidence.
func (a *Adapter) Apply(ctx context.Context, tenantID string, f SignalFields) (SignalFields, error) {
	if f.Adapted {
		return f, nil
	}

	modeStr, err := a.governor.CurrentMode(ctx, tenantID)
	if err != nil {
		return f, err
	}
	policyCap, ok := a.governor.CapsFor(envconfig.MorphicMode(modeStr))
	if !ok {
		policyCap, _ = a.governor.CapsFor(envconfig.ModeDefault)
	}

	if f.Confidence < policyCap.MinConfidence {
		return f, errkind.New(errkind.PolicyViolation, "mode.Adapter.Apply",
			"confidence below mode minimum")
	}

	out := f
	out.Confidence *= policyCap.ConfidenceMultiplier
	if out.Leverage > policyCap.MaxLeverage {
		out.Leverage = policyCap.MaxLeverage
	}
	out.TTL = time.Duration(float64(out.TTL) * policyCap.TTLMultiplier)
	out.Adapted = true
	return out, nil
}
