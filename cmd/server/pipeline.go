package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"titan/internal/alerting"
	"titan/internal/bus"
	"titan/internal/capital"
	"titan/internal/envconfig"
	"titan/internal/errkind"
	"titan/internal/execution"
	"titan/internal/failover"
	"titan/internal/metrics"
	"titan/internal/mode"
	"titan/internal/registry"
	"titan/internal/runtime"
	"titan/internal/signal"
	"titan/internal/training"
)

// pipelineDeps collects everything buildPipeline needs to wire the
// Signal Pipeline (§4.7), the Execution & Post-Trade monitors (§4.9),
// the Health Monitor and Persona Shifter tick loops (§4.4/§4.6), and
// the Training Scheduler (Non-goal (c) contract) as their own Module
// Runtime instances.
type pipelineDeps struct {
	env            *envconfig.Env
	bus            bus.Bus
	metrics        *metrics.Registry
	chaos          *failover.Monitor
	governor       *mode.Governor
	capStore       *capital.Store
	reg            *registry.Registry
	healthMonitor  *registry.HealthMonitor
	personaShifter *mode.PersonaShifter
	restartQueue   *registry.RestartQueue
	alerts         *alerting.Dispatcher
}

// newPipelineRuntime is the one place every stage/monitor in this file
// builds its runtime.Config from, so the restart-on-fatal wiring stays
// consistent with the capital/failover runtimes in main.go.
func (d pipelineDeps) newPipelineRuntime(name string, typ runtime.Type, maxTick time.Duration) *runtime.Runtime {
	return runtime.New(runtime.Config{
		Name:            name,
		Version:         "v1",
		Type:            typ,
		TenantID:        d.env.TenantID,
		Bus:             d.bus,
		Metrics:         d.metrics,
		Mode:            d.governor,
		Chaos:           d.chaos,
		MaxTickDuration: maxTick,
		RestartBackoff:  2 * time.Second,
		ChaosMode:       d.env.ChaosMode,
		OnFatal: func(ctx context.Context, moduleName string, cause error) {
			_ = d.restartQueue.Enqueue(ctx, moduleName, "v1", cause)
		},
	})
}

// buildPipeline wires every Signal Pipeline stage from §4.7 as its own
// Module Runtime instance, subscribing to its upstream StageChannel
// and forwarding surviving signals to the next one, plus the Retry
// Throttle, Slippage/Phantom Fill monitors, the Health Monitor and
// Persona Shifter tick loops, and the Training Scheduler. It returns
// every constructed runtime for the caller to Start/Stop alongside
// capitalRuntime and failoverRuntime.
func buildPipeline(d pipelineDeps) []*runtime.Runtime {
	var runtimes []*runtime.Runtime
	add := func(r *runtime.Runtime) { runtimes = append(runtimes, r) }

	integrity := signal.IntegrityChecker{}
	integrityRT := d.newPipelineRuntime("signal-integrity-checker", runtime.TypeFilter, 5*time.Second)
	integrityRT.OnMessage(signal.RawChannel(d.env.TenantID), func(ctx context.Context, channel string, payload []byte) error {
		s, err := signal.Decode(payload)
		if err != nil {
			return err
		}
		out := integrity.Check(s)
		if !out.Forward {
			return nil
		}
		return signal.Forward(ctx, d.bus, signal.StageNoise, out.Signal)
	})
	add(integrityRT)

	noiseReducer := signal.NewNoiseReducer(d.bus, signal.DefaultDebounceWindow)
	noiseRT := d.newPipelineRuntime("signal-noise-reducer", runtime.TypeFilter, 5*time.Second)
	noiseRT.OnMessage(signal.StageChannel(signal.StageNoise), func(ctx context.Context, channel string, payload []byte) error {
		s, err := signal.Decode(payload)
		if err != nil {
			return err
		}
		out, err := noiseReducer.Check(ctx, s)
		if err != nil {
			return err
		}
		if !out.Forward {
			return nil
		}
		return signal.Forward(ctx, d.bus, signal.StageAlignment, out.Signal)
	})
	add(noiseRT)

	alignment := signal.NewAlignmentFrontLoader(d.bus, signal.DefaultAlignmentWindow, signal.DefaultMinSignalsAligned, signal.DefaultCapitalMultiplier)
	alignmentRT := d.newPipelineRuntime("signal-alignment-front-loader", runtime.TypeFilter, 5*time.Second)
	alignmentRT.OnMessage(signal.StageChannel(signal.StageAlignment), func(ctx context.Context, channel string, payload []byte) error {
		s, err := signal.Decode(payload)
		if err != nil {
			return err
		}
		outs, err := alignment.Check(ctx, s)
		if err != nil {
			return err
		}
		for _, out := range outs {
			if !out.Forward {
				continue
			}
			if err := signal.Forward(ctx, d.bus, signal.StageTrust, out.Signal); err != nil {
				return err
			}
		}
		return nil
	})
	add(alignmentRT)

	trust := signal.NewTrustAnalyzer(signal.DefaultHistoryWeight, signal.DefaultModelWeight, signal.DefaultTrustworthinessThreshold)
	trustRT := d.newPipelineRuntime("signal-trust-analyzer", runtime.TypeFilter, 5*time.Second)
	trustRT.OnMessage(signal.StageChannel(signal.StageTrust), func(ctx context.Context, channel string, payload []byte) error {
		s, err := signal.Decode(payload)
		if err != nil {
			return err
		}
		out := trust.Check(s)
		if !out.Forward {
			return nil
		}
		return signal.Forward(ctx, d.bus, signal.StageCollision, out.Signal)
	})
	add(trustRT)

	// CollisionDetector observes candidates as they arrive and flushes
	// its sliding window on a tick; collisionTracker remembers which
	// (tenant, symbol) pairs currently hold candidates so the tick
	// only flushes pairs that were actually touched.
	collision := signal.NewCollisionDetector(d.bus, signal.DefaultCollisionWindow)
	tracker := newPairTracker()
	collisionRT := d.newPipelineRuntime("signal-collision-detector", runtime.TypeFilter, 5*time.Second)
	collisionRT.OnMessage(signal.StageChannel(signal.StageCollision), func(ctx context.Context, channel string, payload []byte) error {
		s, err := signal.Decode(payload)
		if err != nil {
			return err
		}
		tracker.add(s.TenantID, s.Symbol)
		return collision.Observe(ctx, s)
	})
	collisionRT.OnTick(signal.DefaultCollisionWindow, func(ctx context.Context, now time.Time, m string) error {
		for _, p := range tracker.drain() {
			outs, err := collision.Flush(ctx, p.tenantID, p.symbol)
			if err != nil {
				return err
			}
			for _, out := range outs {
				if !out.Forward {
					continue
				}
				if err := signal.Forward(ctx, d.bus, signal.StageOverlap, out.Signal); err != nil {
					return err
				}
			}
		}
		return nil
	})
	add(collisionRT)

	escalation := signal.NewConflictEscalationManager(signal.DefaultHistoryWeight, signal.DefaultModelWeight)
	escalationRT := d.newPipelineRuntime("signal-conflict-escalation-manager", runtime.TypeFilter, 5*time.Second)
	escalationRT.OnMessage(signal.ConflictsChannel, func(ctx context.Context, channel string, payload []byte) error {
		ev, err := signal.DecodeConflictEvent(payload)
		if err != nil {
			return err
		}
		result := escalation.Resolve(ev)
		for _, out := range result.Outcomes {
			if !out.Forward {
				continue
			}
			if err := signal.Forward(ctx, d.bus, signal.StageOverlap, out.Signal); err != nil {
				return err
			}
		}
		if result.Override != nil {
			data, err := json.Marshal(result.Override)
			if err != nil {
				return errkind.Wrap(errkind.Fatal, "signal-conflict-escalation-manager", "encode override failed", err)
			}
			if err := d.bus.Publish(ctx, signal.CommanderOverrideChannel, data); err != nil {
				return err
			}
		}
		return nil
	})
	add(escalationRT)

	overlap := signal.NewOverlapResolver(d.bus, signal.DefaultMaxPositionSize)
	overlapRT := d.newPipelineRuntime("signal-overlap-resolver", runtime.TypeFilter, 5*time.Second)
	overlapRT.OnMessage(signal.StageChannel(signal.StageOverlap), func(ctx context.Context, channel string, payload []byte) error {
		s, err := signal.Decode(payload)
		if err != nil {
			return err
		}
		out, err := overlap.Check(ctx, s)
		if err != nil {
			return err
		}
		if !out.Forward {
			return nil
		}
		return signal.Forward(ctx, d.bus, signal.StageAdapter, out.Signal)
	})
	add(overlapRT)

	adapter := mode.NewAdapter(d.governor)
	adapterRT := d.newPipelineRuntime("signal-morphic-adapter", runtime.TypeFilter, 5*time.Second)
	adapterRT.OnMessage(signal.StageChannel(signal.StageAdapter), func(ctx context.Context, channel string, payload []byte) error {
		s, err := signal.Decode(payload)
		if err != nil {
			return err
		}
		fields := mode.SignalFields{
			Confidence: s.Confidence,
			Leverage:   derefOrZero(s.Leverage),
			TTL:        time.Duration(s.TTLMillis) * time.Millisecond,
			Adapted:    s.HasPassed(signal.StageAdapter),
		}
		adapted, err := adapter.Apply(ctx, s.TenantID, fields)
		if err != nil {
			if kind, ok := errkind.KindOf(err); ok && kind == errkind.PolicyViolation {
				d.metrics.PolicyDropTotal.WithLabelValues("morphic_adapter").Inc()
				return nil
			}
			return err
		}
		out := s.Derive()
		out.Confidence = adapted.Confidence
		out.Leverage = &adapted.Leverage
		out.TTLMillis = adapted.TTL.Milliseconds()
		out = out.WithVerdict(signal.StageAdapter, signal.VerdictPass, "")
		return signal.Forward(ctx, d.bus, signal.StageWindow, out)
	})
	add(adapterRT)

	window := signal.NewContextWindowFilter(nil)
	windowRT := d.newPipelineRuntime("signal-context-window-filter", runtime.TypeFilter, 5*time.Second)
	windowRT.OnMessage(signal.StageChannel(signal.StageWindow), func(ctx context.Context, channel string, payload []byte) error {
		s, err := signal.Decode(payload)
		if err != nil {
			return err
		}
		out := window.Check(s, time.Now())
		if !out.Forward {
			return nil
		}
		return signal.Forward(ctx, d.bus, signal.StageRouter, out.Signal)
	})
	add(windowRT)

	router := signal.NewRouter(d.bus)
	phantomDetector := execution.NewPhantomFillDetector(d.bus, execution.DefaultPhantomLookback)
	routerRT := d.newPipelineRuntime("signal-router", runtime.TypeRouter, 5*time.Second)
	routerRT.OnMessage(signal.StageChannel(signal.StageRouter), func(ctx context.Context, channel string, payload []byte) error {
		s, err := signal.Decode(payload)
		if err != nil {
			return err
		}
		if err := router.Route(ctx, s); err != nil {
			return err
		}
		if err := d.bus.Set(ctx, inflightSignalKey(s.ID), payload, execution.DefaultPhantomLookback); err != nil {
			return err
		}
		return phantomDetector.RecordEmission(ctx, s.ID)
	})
	add(routerRT)

	resolveInflight := func(ctx context.Context, signalID string) ([]byte, bool, error) {
		data, err := d.bus.Get(ctx, inflightSignalKey(signalID))
		if err == bus.ErrNotFound {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
	retry := execution.NewRetryThrottle(d.bus, resolveInflight)
	retryRT := d.newPipelineRuntime("execution-retry-throttle", runtime.TypeExecutor, execution.DefaultRetryDelay+5*time.Second)
	retryRT.OnMessage(execution.FailureChannel, func(ctx context.Context, channel string, payload []byte) error {
		f, err := execution.UnmarshalFailure(payload)
		if err != nil {
			return err
		}
		retried, err := retry.Handle(ctx, f)
		if err != nil {
			return err
		}
		if retried || d.alerts == nil {
			return nil
		}
		_, err = d.alerts.Dispatch(ctx, alerting.Event{
			Kind:     errkind.Fatal,
			Severity: alerting.SeverityCritical,
			Module:   "execution-retry-throttle",
			TenantID: f.TenantID,
			Message:  fmt.Sprintf("signal %s exhausted retries: %s", f.SignalID, f.Reason),
		})
		return err
	})
	add(retryRT)

	slippage := execution.NewSlippageDetector(execution.DefaultSlippageThreshold)
	postTradeRT := d.newPipelineRuntime("execution-post-trade-monitor", runtime.TypeMonitor, 5*time.Second)
	postTradeRT.OnMessage(execution.TradeChannel, func(ctx context.Context, channel string, payload []byte) error {
		var t execution.Trade
		if err := json.Unmarshal(payload, &t); err != nil {
			return errkind.Wrap(errkind.InvalidSignal, "execution-post-trade-monitor", "malformed trade payload", err)
		}
		if flagged, relative := slippage.Flagged(t); flagged && d.alerts != nil {
			if _, err := d.alerts.Dispatch(ctx, alerting.Event{
				Kind:     errkind.ConfigDrift,
				Severity: alerting.SeverityWarning,
				Module:   "execution-slippage-detector",
				TenantID: t.TenantID,
				Message:  fmt.Sprintf("trade %s slipped %.4f%% past expected price", t.SignalID, relative*100),
			}); err != nil {
				return err
			}
		}
		isPhantom, reason, err := phantomDetector.Check(ctx, t)
		if err != nil {
			return err
		}
		if isPhantom && d.alerts != nil {
			if _, err := d.alerts.Dispatch(ctx, alerting.Event{
				Kind:     errkind.SimulatedFailure,
				Severity: alerting.SeverityCritical,
				Module:   "execution-phantom-fill-detector",
				TenantID: t.TenantID,
				Message:  reason,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	add(postTradeRT)

	healthRT := d.newPipelineRuntime("registry-health-monitor", runtime.TypeMonitor, 10*time.Second)
	healthRT.OnTick(30*time.Second, func(ctx context.Context, now time.Time, m string) error {
		records, err := d.reg.List(ctx)
		if err != nil {
			return err
		}
		for _, rec := range records {
			decay := now.Sub(rec.LastHeartbeatAt).Seconds() / registry.RecordTTL.Seconds()
			if decay < 0 {
				decay = 0
			}
			if decay > 1 {
				decay = 1
			}
			// PendingTaskLeak/MemoryGrowth/CPUOveruse have no real probe
			// at this abstraction (no OS-level process handle per
			// module); left at zero rather than fabricated, per
			// DESIGN.md.
			if _, _, err := d.healthMonitor.Evaluate(ctx, rec.Name, rec.Version, registry.Indicators{TTLDecayRatio: decay}); err != nil {
				return err
			}
		}
		return nil
	})
	add(healthRT)

	// The coordination core tracks capital in fixed reserve buckets,
	// not a single equity figure (Non-goal (a): no live exchange
	// balance feed). ProfitPool is the bucket that moves with trading
	// results, so its first observed value stands in as the tenant's
	// starting equity baseline for the Persona Shifter's drawdown
	// ratio; the baseline is kept in process memory rather than in a
	// new durable field on Book.
	equityBaseline := newEquityBaseline()
	personaRT := d.newPipelineRuntime("persona-shifter", runtime.TypeMonitor, 10*time.Second)
	personaRT.OnTick(30*time.Second, func(ctx context.Context, now time.Time, m string) error {
		book, err := d.capStore.Get(ctx, d.env.TenantID)
		if err != nil {
			return err
		}
		initial := equityBaseline.baselineFor(d.env.TenantID, book.ProfitPool)
		if initial <= 0 {
			return nil
		}
		_, err = d.personaShifter.Observe(ctx, d.env.TenantID, book.ProfitPool, initial)
		return err
	})
	add(personaRT)

	scheduler := training.NewScheduler(d.bus, trainingScheduleFromEnv())
	trainingRT := d.newPipelineRuntime("training-scheduler", runtime.TypeMonitor, 10*time.Second)
	trainingRT.OnTick(time.Hour, func(ctx context.Context, now time.Time, m string) error {
		return scheduler.Tick(ctx, now, "momentum_model")
	})
	add(trainingRT)

	return runtimes
}

// trainingScheduleFromEnv reads TRAINING_SCHEDULE ("weekly" or "drift"),
// falling back to training.DefaultSchedule when unset or unrecognized.
func trainingScheduleFromEnv() training.Schedule {
	switch training.Schedule(os.Getenv("TRAINING_SCHEDULE")) {
	case training.ScheduleDrift:
		return training.ScheduleDrift
	case training.ScheduleWeekly:
		return training.ScheduleWeekly
	default:
		return training.DefaultSchedule
	}
}

func derefOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func inflightSignalKey(signalID string) string {
	return "titan:infra:execution:inflight:" + signalID
}

// pairTracker remembers which (tenantID, symbol) pairs have seen a
// collision candidate since the last drain, so the Collision
// Detector's tick only flushes windows that were actually touched.
type pairTracker struct {
	pairs map[pair]struct{}
}

type pair struct{ tenantID, symbol string }

func newPairTracker() *pairTracker {
	return &pairTracker{pairs: make(map[pair]struct{})}
}

func (t *pairTracker) add(tenantID, symbol string) {
	t.pairs[pair{tenantID, symbol}] = struct{}{}
}

func (t *pairTracker) drain() []pair {
	out := make([]pair, 0, len(t.pairs))
	for p := range t.pairs {
		out = append(out, p)
	}
	t.pairs = make(map[pair]struct{})
	return out
}

// equityBaseline remembers, per tenant, the first ProfitPool value the
// Persona Shifter tick observed, so later ticks have a fixed reference
// to compute drawdown ratio against.
type equityBaseline struct {
	mu    sync.Mutex
	value map[string]float64
}

func newEquityBaseline() *equityBaseline {
	return &equityBaseline{value: make(map[string]float64)}
}

func (e *equityBaseline) baselineFor(tenantID string, current float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.value[tenantID]; ok {
		return v
	}
	e.value[tenantID] = current
	return current
}
