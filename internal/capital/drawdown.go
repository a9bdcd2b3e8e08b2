package capital

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"titan/internal/bus"
	"titan/internal/journal"
)

// DefaultLossCountThreshold and DefaultCapitalRemovalPercent are the §4.8 Drawdown
// Redirector defaults.
const (
	DefaultLossCountThreshold   = 3
	DefaultCapitalRemovalPercent = 0.70
)

// NeutralStrategy and HedgeStrategy are the two strategies the
// Drawdown Redirector moves capital into (§8 scenario 4).
const (
	NeutralStrategy = "NeutralStrategy"
	HedgeStrategy   = "HedgeStrategy"
)

// Redirector implements the Drawdown Redirector (§4.8): it counts
// consecutive losses per strategy from the journaled trade log and, on
// LOSS_COUNT_THRESHOLD consecutive losses, moves CAPITAL_REMOVAL_PERCENT
// of that strategy's allocation evenly into the neutral/hedge set.
type Redirector struct {
	store              *Store
	journal            *journal.Journal
	lossCountThreshold  int
	removalPercent      float64
	metricsHook        func()
}

// NewRedirector constructs a Redirector. metricsHook, if non-nil, is
// called once per redirection (wired to metrics.Registry.CapitalRedirects.Inc).
func NewRedirector(store *Store, j *journal.Journal, metricsHook func()) *Redirector {
	return &Redirector{store: store, journal: j, lossCountThreshold: DefaultLossCountThreshold, removalPercent: DefaultCapitalRemovalPercent, metricsHook: metricsHook}
}

// WithThresholds overrides the loss count threshold and removal
// percent; returns r for chaining.
func (r *Redirector) WithThresholds(lossCountThreshold int, removalPercent float64) *Redirector {
	r.lossCountThreshold = lossCountThreshold
	r.removalPercent = removalPercent
	return r
}

// Check inspects the most recent outcomes for (tenantID, strategy); if
// the last lossCountThreshold trades are all losses, it redirects
// removalPercent of the strategy's current allocation into
// NeutralStrategy/HedgeStrategy (split evenly) and returns true.
func (r *Redirector) Check(ctx context.Context, tenantID, strategy string) (bool, Book, error) {
	outcomes, err := r.journal.RecentOutcomes(ctx, tenantID, strategy, r.lossCountThreshold)
	if err != nil {
		return false, Book{}, err
	}
	if len(outcomes) < r.lossCountThreshold {
		return false, Book{}, nil
	}
	for _, o := range outcomes {
		if o != "loss" {
			return false, Book{}, nil
		}
	}

	b, err := r.store.Mutate(ctx, tenantID, fmt.Sprintf("drawdown redirect: %s", strategy), func(b *Book) {
		current := b.Allocations[strategy]
		moved := current * r.removalPercent
		if moved <= 0 {
			return
		}
		b.Allocations[strategy] = current - moved
		b.Allocations[NeutralStrategy] += moved / 2
		b.Allocations[HedgeStrategy] += moved / 2
	})
	if err != nil {
		return false, Book{}, err
	}
	if r.metricsHook != nil {
		r.metricsHook()
	}
	return true, b, nil
}

// DefaultMaxDrawdown is the §4.8 Forced Drawdown Trigger's default
// breach threshold, expressed as a negative fraction of initial
// equity; matches original_source/forced_drawdown_trigger.py's
// MAX_DRAWDOWN default.
const DefaultMaxDrawdown = -0.3

// hibernateTTL bounds the liquidate-all broadcast's retained signal.
const hibernateTTL = time.Hour

// HibernateChannel carries the §8 scenario 6 kill-switch broadcast.
const HibernateChannel = "titan:prod:hibernate"

// HibernateDirective is published when a kill-switch fires (§4.8,
// §4.11 state machine).
type HibernateDirective struct {
	Reason    string  `json:"reason"`
	TenantID  string  `json:"tenant_id,omitempty"`
	Drawdown  float64 `json:"drawdown,omitempty"`
	Volatility float64 `json:"volatility,omitempty"`
}

// ForcedDrawdownTrigger monitors equity vs. its tenant-local initial
// baseline; a breach of MAX_DRAWDOWN broadcasts a liquidate-all
// directive, but only when LiquidationProtectionEnabled is true
// (§4.8).
type ForcedDrawdownTrigger struct {
	bus                          bus.Bus
	maxDrawdown                  float64
	liquidationProtectionEnabled bool
}

// NewForcedDrawdownTrigger constructs a ForcedDrawdownTrigger; zero
// maxDrawdown falls back to DefaultMaxDrawdown.
func NewForcedDrawdownTrigger(b bus.Bus, maxDrawdown float64, liquidationProtectionEnabled bool) *ForcedDrawdownTrigger {
	if maxDrawdown == 0 {
		maxDrawdown = DefaultMaxDrawdown
	}
	return &ForcedDrawdownTrigger{bus: b, maxDrawdown: maxDrawdown, liquidationProtectionEnabled: liquidationProtectionEnabled}
}

// Evaluate computes drawdown = (equity - initialEquity) / initialEquity
// and, if it breaches maxDrawdown and liquidation protection is
// enabled, publishes a liquidate-all HibernateDirective.
func (t *ForcedDrawdownTrigger) Evaluate(ctx context.Context, tenantID string, equity, initialEquity float64) (bool, error) {
	if initialEquity <= 0 {
		return false, nil
	}
	drawdown := (equity - initialEquity) / initialEquity
	if drawdown > t.maxDrawdown {
		return false, nil
	}
	if !t.liquidationProtectionEnabled {
		return false, nil
	}

	data, err := json.Marshal(HibernateDirective{Reason: "forced_drawdown_trigger", TenantID: tenantID, Drawdown: drawdown})
	if err != nil {
		return false, err
	}
	if err := t.bus.Publish(ctx, HibernateChannel, data); err != nil {
		return false, err
	}
	return true, nil
}
