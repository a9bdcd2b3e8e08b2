package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"titan/internal/bus"
)

// DefaultAlignmentWindow, DefaultMinSignalsAligned and
// DefaultCapitalMultiplier are the §4.7 configurable defaults.
const (
	DefaultAlignmentWindow     = 30 * time.Second
	DefaultMinSignalsAligned   = 3
	DefaultCapitalMultiplier   = 1.5
	// MaxAlignedQuantityFactor caps the aligned-signal quantity boost
	// at this multiple of the triggering signal's own quantity, per
	// the "(capped)" note in §4.7.
	MaxAlignedQuantityFactor = 3.0
)

type alignmentEntry struct {
	Strategy string `json:"strategy"`
	AtMillis int64  `json:"at_millis"`
}

func alignmentKey(tenantID, symbol string, side Side) string {
	return fmt.Sprintf("titan:%s:signal:alignment:%s:%s", tenantID, symbol, side)
}

// AlignmentFrontLoader is pipeline stage #3 (§4.7): aggregates signals
// across strategies on a sliding window and, once enough distinct
// strategies agree on (symbol, side), emits one additional derived
// signal with a boosted quantity. It never blocks the original
// signal's own progress through the pipeline.
type AlignmentFrontLoader struct {
	bus              bus.Bus
	window           time.Duration
	minAligned       int
	capitalMultiplier float64
}

// NewAlignmentFrontLoader constructs an AlignmentFrontLoader; zero
// values fall back to the §4.7 defaults.
func NewAlignmentFrontLoader(b bus.Bus, window time.Duration, minAligned int, capitalMultiplier float64) *AlignmentFrontLoader {
	if window <= 0 {
		window = DefaultAlignmentWindow
	}
	if minAligned <= 0 {
		minAligned = DefaultMinSignalsAligned
	}
	if capitalMultiplier <= 0 {
		capitalMultiplier = DefaultCapitalMultiplier
	}
	return &AlignmentFrontLoader{bus: b, window: window, minAligned: minAligned, capitalMultiplier: capitalMultiplier}
}

// Check records s's strategy in the (symbol, side) aggregation window
// and returns the original signal to forward plus, when the alignment
// threshold is crossed, a second derived signal with a boosted
// quantity.
func (a *AlignmentFrontLoader) Check(ctx context.Context, s Signal) ([]Outcome, error) {
	key := alignmentKey(s.TenantID, s.Symbol, s.Side)
	now := time.Now()

	entries, err := a.load(ctx, key)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-a.window).UnixMilli()
	fresh := entries[:0]
	byStrategy := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.AtMillis >= cutoff {
			byStrategy[e.Strategy] = e.AtMillis
		}
	}
	byStrategy[s.Strategy] = now.UnixMilli()
	for strat, at := range byStrategy {
		fresh = append(fresh, alignmentEntry{Strategy: strat, AtMillis: at})
	}

	out := []Outcome{pass(s, StageAlignment)}

	if len(byStrategy) >= a.minAligned {
		boosted := s.Derive()
		factor := a.capitalMultiplier
		if factor > MaxAlignedQuantityFactor {
			factor = MaxAlignedQuantityFactor
		}
		boosted.Quantity = s.Quantity * factor
		boosted = boosted.WithVerdict(StageAlignment, VerdictAligned,
			fmt.Sprintf("%d distinct strategies aligned on (%s, %s)", len(byStrategy), s.Symbol, s.Side))
		out = append(out, Outcome{Signal: boosted, Forward: true, Verdict: VerdictAligned})

		// Reset the window so alignment must re-accumulate before
		// firing again, rather than emitting a boosted signal on every
		// subsequent message while the same strategies remain "fresh".
		fresh = fresh[:0]
	}

	if err := a.store(ctx, key, fresh); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *AlignmentFrontLoader) load(ctx context.Context, key string) ([]alignmentEntry, error) {
	data, err := a.bus.Get(ctx, key)
	if err == bus.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []alignmentEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil // corrupt/stale state; start fresh rather than fail the signal
	}
	return entries, nil
}

func (a *AlignmentFrontLoader) store(ctx context.Context, key string, entries []alignmentEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return a.bus.Set(ctx, key, data, a.window)
}
