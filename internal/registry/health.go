package registry

import (
	"context"
	"fmt"
	"time"

	"titan/internal/bus"
)

// Health score weights (§4.4, decided in SPEC_FULL.md §4): TTL-decay,
// pending-task leak, memory growth, CPU overuse.
const (
	weightTTLDecay     = 0.3
	weightTaskLeak     = 0.3
	weightMemoryGrowth = 0.2
	weightCPUOveruse   = 0.2

	// unhealthyThreshold below which a restart is triggered.
	unhealthyThreshold = 0.5

	canaryTriggerCount  = 3
	retiredTriggerCount = 5
)

// Indicators is one Health Monitor sample for a module, each component
// normalized to [0,1] where 1.0 means maximally unhealthy on that axis.
type Indicators struct {
	TTLDecayRatio  float64
	PendingTaskLeak float64
	MemoryGrowth   float64
	CPUOveruse     float64
}

// Score combines Indicators into the [0,1] health score from §4.4,
// where 1.0 is perfectly healthy.
func (in Indicators) Score() float64 {
	unhealth := weightTTLDecay*in.TTLDecayRatio +
		weightTaskLeak*in.PendingTaskLeak +
		weightMemoryGrowth*in.MemoryGrowth +
		weightCPUOveruse*in.CPUOveruse
	score := 1 - unhealth
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func triggerKey(name, version string) string {
	return fmt.Sprintf("titan:health:%s:triggers", sanitize(name+"@"+version))
}

// triggerTTL bounds how long a streak of consecutive unhealthy scores
// is remembered; an unhealthy module that recovers and stays quiet
// this long starts its escalation count over.
const triggerTTL = 24 * time.Hour

// HealthMonitor computes and tracks per-module health scores (§4.4),
// escalating through the restart -> canary -> retired ladder on
// repeated unhealthy samples.
type HealthMonitor struct {
	bus      bus.Bus
	registry *Registry
	queue    *RestartQueue
}

// NewHealthMonitor constructs a HealthMonitor that escalates restarts
// through queue and mutates status through registry.
func NewHealthMonitor(b bus.Bus, reg *Registry, queue *RestartQueue) *HealthMonitor {
	return &HealthMonitor{bus: b, registry: reg, queue: queue}
}

// Evaluate samples in for (name, version), applying the score
// threshold and escalation ladder. Returns the computed score and the
// action taken, if any ("", "restart", "canary", "retired").
func (h *HealthMonitor) Evaluate(ctx context.Context, name, version string, in Indicators) (float64, string, error) {
	score := in.Score()
	if score >= unhealthyThreshold {
		if err := h.resetTriggers(ctx, name, version); err != nil {
			return score, "", err
		}
		return score, "", nil
	}

	count, err := h.incrementTriggers(ctx, name, version)
	if err != nil {
		return score, "", err
	}

	if err := h.queue.Enqueue(ctx, name, version, fmt.Errorf("health score %.3f below threshold", score)); err != nil {
		return score, "", err
	}

	switch {
	case count >= retiredTriggerCount:
		return score, "retired", h.registry.SetStatus(ctx, name, version, StatusRetired)
	case count >= canaryTriggerCount:
		return score, "canary", h.registry.SetStatus(ctx, name, version, StatusCanary)
	default:
		return score, "restart", nil
	}
}

func (h *HealthMonitor) incrementTriggers(ctx context.Context, name, version string) (int64, error) {
	key := triggerKey(name, version)
	count, err := h.bus.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (h *HealthMonitor) resetTriggers(ctx context.Context, name, version string) error {
	return h.bus.Del(ctx, triggerKey(name, version))
}
