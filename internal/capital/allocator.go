package capital

import (
	"context"
	"time"
)

// ProfitabilityRisk is one strategy's trailing performance pair, the
// Allocator's sole input (§4.8).
type ProfitabilityRisk struct {
	Strategy      string
	Profitability float64 // trailing realized PnL normalized to [-1,1]
	Risk          float64 // trailing volatility/drawdown normalized to [0,1]
}

// Allocator computes per-strategy allocation fractions from
// (profitability, risk) pairs, clamped to [0.05, 0.30] (§4.8), and
// publishes the updated Capital Book through Store on change.
type Allocator struct {
	store *Store
}

// NewAllocator constructs an Allocator writing through store.
func NewAllocator(store *Store) *Allocator {
	return &Allocator{store: store}
}

// score combines profitability and risk into a raw, unclamped
// allocation weight: higher profitability and lower risk raise a
// strategy's share.
func score(pr ProfitabilityRisk) float64 {
	s := (pr.Profitability + 1) / 2 * (1 - pr.Risk)
	if s < 0 {
		return 0
	}
	return s
}

// Rebalance computes a fresh allocation for every strategy in inputs
// and writes the result as a new Capital Book version for tenantID.
// Raw scores are scaled to sum to 1.0 before the per-strategy clamp is
// applied; any residual freed by clamping down is left unallocated
// (added to no bucket) rather than redistributed. Clamping small
// fractions up to the 0.05 floor can push the total above 1.0, in
// which case Mutate rejects the rebalance with errkind.PolicyViolation
// and the stored Book is unchanged.
func (a *Allocator) Rebalance(ctx context.Context, tenantID string, inputs []ProfitabilityRisk) (Book, error) {
	if len(inputs) == 0 {
		return a.store.Get(ctx, tenantID)
	}

	var total float64
	scores := make(map[string]float64, len(inputs))
	for _, pr := range inputs {
		sc := score(pr)
		scores[pr.Strategy] = sc
		total += sc
	}

	return a.store.Mutate(ctx, tenantID, "allocator.Rebalance", func(b *Book) {
		b.Allocations = make(map[string]float64, len(inputs))
		for _, pr := range inputs {
			var frac float64
			if total > 0 {
				frac = scores[pr.Strategy] / total
			}
			b.Allocations[pr.Strategy] = clamp(frac, false)
		}
	})
}

// LoopOptimizer re-runs the Allocator on a trailing window every hour
// (§4.8: "Capital Loop Optimizer re-runs the allocator hourly over a
// trailing window"). TrailingWindow supplies the current
// ProfitabilityRisk set per tenant on each tick.
type LoopOptimizer struct {
	allocator      *Allocator
	trailingWindow func(ctx context.Context, tenantID string) ([]ProfitabilityRisk, error)
}

// DefaultLoopInterval is the §4.8 hourly cadence.
const DefaultLoopInterval = time.Hour

// NewLoopOptimizer constructs a LoopOptimizer; trailingWindow supplies
// the per-tenant trailing performance sample on each Tick.
func NewLoopOptimizer(allocator *Allocator, trailingWindow func(ctx context.Context, tenantID string) ([]ProfitabilityRisk, error)) *LoopOptimizer {
	return &LoopOptimizer{allocator: allocator, trailingWindow: trailingWindow}
}

// Tick re-runs the allocator for tenantID, intended to be registered
// with a runtime.Runtime as an hourly TickFunc.
func (l *LoopOptimizer) Tick(ctx context.Context, tenantID string) (Book, error) {
	inputs, err := l.trailingWindow(ctx, tenantID)
	if err != nil {
		return Book{}, err
	}
	return l.allocator.Rebalance(ctx, tenantID, inputs)
}
