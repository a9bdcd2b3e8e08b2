// Package runtime implements the Module Runtime scaffold (§4.3): the
// shared lifecycle every worker in the coordination core is an instance
// of — periodic tick, subscription handling, chaos hook, structured
// logging, metrics, and graceful shutdown.
package runtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"titan/internal/bus"
	"titan/internal/envconfig"
	"titan/internal/errkind"
	"titan/internal/metrics"
	"titan/internal/namespace"
	"titan/internal/obslog"
)

// Type is the module type field on a Module Record (§3).
type Type string

const (
	TypeSignal   Type = "signal"
	TypeFilter   Type = "filter"
	TypeRouter   Type = "router"
	TypeExecutor Type = "executor"
	TypeMonitor  Type = "monitor"
	TypeConfig   Type = "config"
)

const defaultMaxTickDuration = 10 * time.Second
const defaultShutdownDeadline = 30 * time.Second
const defaultRestartBackoff = 5 * time.Second

// ModeReader is the minimal surface the runtime needs from the mode
// package to fetch the current Morphic mode for a tenant without
// creating an import cycle; internal/mode.Governor satisfies this.
type ModeReader interface {
	CurrentMode(ctx context.Context, tenantID string) (string, error)
}

// ChaosReader exposes whether the Chaos Monitor (§4.11) has armed a
// directive for this module; internal/failover.ChaosMonitor satisfies
// this.
type ChaosReader interface {
	Armed(ctx context.Context, module string) (bool, error)
}

// Config wires a Module Runtime instance.
type Config struct {
	Name    string
	Version string
	Type    Type
	TenantID string // "" for process-wide (non-tenant-scoped) modules

	Bus     bus.Bus
	Guard   *namespace.Guard
	Metrics *metrics.Registry
	Mode    ModeReader
	Chaos   ChaosReader

	MaxTickDuration time.Duration
	RestartBackoff  time.Duration
	ChaosMode       bool

	// OnFatal is invoked when a tick or handler returns errkind.Fatal;
	// typically wired to the Restart Queue's Enqueue method.
	OnFatal func(ctx context.Context, moduleName string, cause error)
}

// TickFunc is invoked on the module's chosen cadence. now is the tick's
// logical timestamp; mode is the tenant's currently active Morphic mode
// (empty string if the module is not tenant-scoped or mode lookup
// failed transiently).
type TickFunc func(ctx context.Context, now time.Time, mode string) error

// HandlerFunc processes one message delivered on a declared subscription.
type HandlerFunc func(ctx context.Context, channel string, payload []byte) error

type tickerEntry struct {
	interval time.Duration
	fn       TickFunc
}

type subscription struct {
	channel string
	fn      HandlerFunc
}

// Runtime is one Module Runtime instance. Construct with New, register
// tick/subscription handlers, then Start.
type Runtime struct {
	cfg Config

	mu       sync.Mutex
	tickers  []tickerEntry
	subs     []subscription
	started  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Runtime from cfg, applying the defaults named in §4.3
// and §5 (10s max tick duration, 30s shutdown deadline, 5s restart
// backoff).
func New(cfg Config) *Runtime {
	if cfg.MaxTickDuration <= 0 {
		cfg.MaxTickDuration = defaultMaxTickDuration
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = defaultRestartBackoff
	}
	return &Runtime{cfg: cfg, stopCh: make(chan struct{})}
}

// OnTick registers a periodic handler invoked every interval.
func (r *Runtime) OnTick(interval time.Duration, fn TickFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickers = append(r.tickers, tickerEntry{interval: interval, fn: fn})
}

// OnMessage subscribes to channel and dispatches deliveries to fn.
func (r *Runtime) OnMessage(channel string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, subscription{channel: channel, fn: fn})
}

// Start launches every registered ticker and subscription loop. It
// returns once all loops are launched; loops themselves run until
// Stop is called or ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errkind.New(errkind.Fatal, "runtime.Start", "already started")
	}
	r.started = true
	tickers := append([]tickerEntry(nil), r.tickers...)
	subs := append([]subscription(nil), r.subs...)
	r.mu.Unlock()

	ctx, logger := obslog.Prepare(ctx, r.cfg.Name)
	logger.Info("module started", zap.String("version", r.cfg.Version), zap.String("type", string(r.cfg.Type)))

	for _, t := range tickers {
		r.wg.Add(1)
		go r.runTicker(ctx, t)
	}
	for _, s := range subs {
		r.wg.Add(1)
		go r.runSubscription(ctx, s)
	}

	return nil
}

// Stop signals every loop to drain and exit, waiting up to the global
// shutdown deadline (§5) before giving up.
func (r *Runtime) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCh) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		obslog.FromContext(ctx).Info("module stopped", zap.String("name", r.cfg.Name))
		return nil
	case <-time.After(defaultShutdownDeadline):
		obslog.FromContext(ctx).Warn("module shutdown deadline exceeded", zap.String("name", r.cfg.Name))
		return errkind.New(errkind.Timeout, "runtime.Stop", "shutdown deadline exceeded")
	}
}

func (r *Runtime) runTicker(ctx context.Context, t tickerEntry) {
	defer r.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.runOneTick(ctx, t.fn, now)
		}
	}
}

func (r *Runtime) runOneTick(ctx context.Context, fn TickFunc, now time.Time) {
	logger := obslog.FromContext(ctx)

	if armed, err := r.chaosArmed(ctx); err != nil {
		logger.Warn("chaos hook check failed", zap.Error(err))
	} else if armed {
		r.recordError(logger, errkind.SimulatedFailure)
		logger.Error("simulated failure", zap.String("error_kind", string(errkind.SimulatedFailure)))
		return
	}

	mode := ""
	if r.cfg.Mode != nil && r.cfg.TenantID != "" {
		m, err := r.cfg.Mode.CurrentMode(ctx, r.cfg.TenantID)
		if err == nil {
			mode = m
		}
	}

	tickCtx, cancel := context.WithTimeout(ctx, r.cfg.MaxTickDuration)
	defer cancel()

	start := time.Now()
	err := fn(tickCtx, now, mode)
	elapsed := time.Since(start)

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveTick(r.cfg.Name, elapsed)
	}

	if err == nil {
		return
	}

	if tickCtx.Err() != nil {
		logger.Warn("tick timed out", zap.Duration("max", r.cfg.MaxTickDuration))
		r.recordError(logger, errkind.Timeout)
		return
	}

	r.handleError(ctx, logger, err)
}

func (r *Runtime) runSubscription(ctx context.Context, s subscription) {
	defer r.wg.Done()

	sub, err := r.cfg.Bus.Subscribe(ctx, s.channel)
	if err != nil {
		obslog.FromContext(ctx).Error("subscribe failed", zap.String("channel", s.channel), zap.Error(err))
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case payload, ok := <-sub.C():
			if !ok {
				return
			}
			r.dispatch(ctx, s, payload)
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, s subscription, payload []byte) {
	logger := obslog.FromContext(ctx)

	handlerCtx, cancel := context.WithTimeout(ctx, r.cfg.MaxTickDuration)
	defer cancel()

	start := time.Now()
	err := s.fn(handlerCtx, s.channel, payload)
	elapsed := time.Since(start)

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveHandler(r.cfg.Name, s.channel, elapsed)
	}

	if err == nil {
		return
	}

	if handlerCtx.Err() != nil {
		logger.Warn("handler timed out", zap.String("channel", s.channel))
		r.recordError(logger, errkind.Timeout)
		return
	}

	r.handleError(ctx, logger, err)
}

// handleError records and logs err under its kind (an unclassified
// error counts as Fatal). Fatal additionally invokes OnFatal; the
// worker's loops keep running afterwards. No kind is retried here.
func (r *Runtime) handleError(ctx context.Context, logger *zap.Logger, err error) {
	kind, ok := errkind.KindOf(err)
	if !ok {
		kind = errkind.Fatal
	}
	r.recordError(logger, kind)

	logger.Error("module error",
		zap.String("error_kind", string(kind)),
		zap.Error(err))

	if kind == errkind.Fatal {
		if r.cfg.OnFatal != nil {
			r.cfg.OnFatal(ctx, r.cfg.Name, err)
		}
	}
}

func (r *Runtime) recordError(logger *zap.Logger, kind errkind.Kind) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveError(r.cfg.Name, string(kind))
	}
}

func (r *Runtime) chaosArmed(ctx context.Context) (bool, error) {
	if !r.cfg.ChaosMode {
		return false, nil
	}
	if r.cfg.Chaos == nil {
		return false, nil
	}
	return r.cfg.Chaos.Armed(ctx, r.cfg.Name)
}

// DefaultEnvChaosMode reads CHAOS_MODE the way every module does at
// startup (§6).
func DefaultEnvChaosMode() bool {
	return envconfig.Load().ChaosMode
}
