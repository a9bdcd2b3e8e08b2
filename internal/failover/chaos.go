package failover

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"titan/internal/bus"
)

// ChaosDirectiveChannel carries load-shedding directives from the
// Chaos Monitor (§4.11).
const ChaosDirectiveChannel = "titan:chaos:directive"

// DefaultChaosThreshold is the sampled chaos score above which a
// load-shedding directive is published.
const DefaultChaosThreshold = 0.75

// DefaultLoadShedFraction is how much trade size is reduced per tenant
// when a directive fires (§4.11's worked example: "reduce trade size
// by 50%%").
const DefaultLoadShedFraction = 0.5

func chaosArmedKey(module string) string {
	return fmt.Sprintf("titan:health:%s:chaos_armed", module)
}

const chaosArmedTTL = time.Minute

// LoadShedDirective is published on ChaosDirectiveChannel when the
// sampled chaos score exceeds the threshold.
type LoadShedDirective struct {
	Score            float64 `json:"score"`
	ReduceFraction   float64 `json:"reduce_fraction"`
}

// Monitor implements the Chaos Monitor (§4.11, and Design Notes §9's
// "centralize as one Chaos Monitor producing directives on a channel;
// workers consume directives rather than self-injecting failures").
// It replaces the source's scattered per-module chaos hooks: a module
// checks ChaosMonitor.Armed for itself rather than deciding on its
// own whether to simulate a failure.
type Monitor struct {
	bus       bus.Bus
	threshold float64
	shed      float64
	sample    func() float64
}

// NewMonitor constructs a Monitor. sample supplies the current [0,1]
// chaos score (a deterministic test double, or math/rand-backed
// sampler in production); zero threshold/shed fall back to the
// package defaults.
func NewMonitor(b bus.Bus, threshold, shed float64, sample func() float64) *Monitor {
	if threshold <= 0 {
		threshold = DefaultChaosThreshold
	}
	if shed <= 0 {
		shed = DefaultLoadShedFraction
	}
	if sample == nil {
		sample = rand.Float64
	}
	return &Monitor{bus: b, threshold: threshold, shed: shed, sample: sample}
}

// Tick samples the current chaos score and, if it exceeds threshold,
// publishes a LoadShedDirective.
func (m *Monitor) Tick(ctx context.Context) (tripped bool, score float64, err error) {
	score = m.sample()
	if score <= m.threshold {
		return false, score, nil
	}

	data, err := json.Marshal(LoadShedDirective{Score: score, ReduceFraction: m.shed})
	if err != nil {
		return false, score, err
	}
	if err := m.bus.Publish(ctx, ChaosDirectiveChannel, data); err != nil {
		return false, score, err
	}
	return true, score, nil
}

// Arm sets a deterministic simulated-failure directive for module,
// consumed by runtime.Runtime's ChaosReader hook (§4.3: "check chaos
// hook (if armed, fail deterministically with SimulatedFailure)").
// Intended for test/chaos-drill use, not production sampling.
func (m *Monitor) Arm(ctx context.Context, module string) error {
	return m.bus.Set(ctx, chaosArmedKey(module), []byte("1"), chaosArmedTTL)
}

// Disarm clears a prior Arm.
func (m *Monitor) Disarm(ctx context.Context, module string) error {
	return m.bus.Del(ctx, chaosArmedKey(module))
}

// Armed implements runtime.ChaosReader.
func (m *Monitor) Armed(ctx context.Context, module string) (bool, error) {
	_, err := m.bus.Get(ctx, chaosArmedKey(module))
	if err == bus.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
