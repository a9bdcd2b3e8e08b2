package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"titan/internal/bus"
)

// DefaultSlippageThreshold is the §4.9 Slippage Detector's default
// relative-deviation threshold.
const DefaultSlippageThreshold = 0.01 // 1%

// SlippageDetector compares expected vs. executed price on Trade
// events and flags when |delta|/expected exceeds threshold (§4.9).
type SlippageDetector struct {
	threshold float64
}

// NewSlippageDetector constructs a SlippageDetector; zero threshold
// falls back to DefaultSlippageThreshold.
func NewSlippageDetector(threshold float64) *SlippageDetector {
	if threshold <= 0 {
		threshold = DefaultSlippageThreshold
	}
	return &SlippageDetector{threshold: threshold}
}

// Flagged reports whether t's slippage exceeds the configured
// threshold, along with the computed relative slippage.
func (d *SlippageDetector) Flagged(t Trade) (flagged bool, relative float64) {
	if t.ExpectedPrice == 0 {
		return false, 0
	}
	relative = math.Abs(t.Price-t.ExpectedPrice) / math.Abs(t.ExpectedPrice)
	return relative > d.threshold, relative
}

// DefaultPhantomLookback is the §4.9 Phantom Fill Detector's default
// window: a fill with no matching signal ID emitted within this long
// is flagged as phantom.
const DefaultPhantomLookback = 5 * time.Minute

func recentSignalKey(signalID string) string {
	return "titan:infra:execution:recent_signals:" + signalID
}

// PhantomFillDetector cross-references each fill against the set of
// recently emitted signal IDs; a fill with no matching signal within
// the lookback window is flagged (§4.9).
type PhantomFillDetector struct {
	bus      bus.Bus
	lookback time.Duration
}

// NewPhantomFillDetector constructs a PhantomFillDetector; zero
// lookback falls back to DefaultPhantomLookback.
func NewPhantomFillDetector(b bus.Bus, lookback time.Duration) *PhantomFillDetector {
	if lookback <= 0 {
		lookback = DefaultPhantomLookback
	}
	return &PhantomFillDetector{bus: b, lookback: lookback}
}

// RecordEmission records that signalID was emitted, so a later fill
// referencing it is not flagged as phantom. Callers wire this to the
// Router's publish path.
func (d *PhantomFillDetector) RecordEmission(ctx context.Context, signalID string) error {
	return d.bus.Set(ctx, recentSignalKey(signalID), []byte{}, d.lookback)
}

// Check reports whether t's SignalID was emitted within the lookback
// window; if not, the fill is a phantom.
func (d *PhantomFillDetector) Check(ctx context.Context, t Trade) (phantom bool, reason string, err error) {
	_, err = d.bus.Get(ctx, recentSignalKey(t.SignalID))
	if err == bus.ErrNotFound {
		return true, fmt.Sprintf("no signal %s emitted within lookback window", t.SignalID), nil
	}
	if err != nil {
		return false, "", err
	}
	return false, "", nil
}
