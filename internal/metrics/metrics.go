// Package metrics centralizes the counters every Module Runtime records.
// Counters are declared once, at registration time, and injected into
// each module — never redeclared inside a request/error handler, which
// the source repo did accidentally and which §9's Design Notes call out
// as a bug, not a pattern to preserve.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the coordination core's process-wide metric
// collectors. One Registry is constructed at process startup and
// injected into every Module Runtime instance.
type Registry struct {
	TickTotal         *prometheus.CounterVec
	ErrorTotal        *prometheus.CounterVec
	TickLatency       *prometheus.HistogramVec
	HandlerLatency    *prometheus.HistogramVec
	BackpressureDrops *prometheus.CounterVec
	RestartTotal      *prometheus.CounterVec
	PolicyDropTotal   *prometheus.CounterVec
	CapitalRedirects  prometheus.Counter
}

// New constructs a Registry and registers its collectors against reg.
// Pass prometheus.DefaultRegisterer in production, prometheus.NewRegistry()
// in tests to avoid cross-test collisions.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		TickTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_module_tick_total",
			Help: "Total number of tick() invocations per module.",
		}, []string{"module"}),
		ErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_module_error_total",
			Help: "Total number of errors per module, labeled by error kind.",
		}, []string{"module", "kind"}),
		TickLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "titan_module_tick_duration_seconds",
			Help:    "Tick handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"module"}),
		HandlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "titan_module_handler_duration_seconds",
			Help:    "Subscription message handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"module", "channel"}),
		BackpressureDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_backpressure_drop_total",
			Help: "Messages dropped due to a full subscription backlog.",
		}, []string{"channel"}),
		RestartTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_module_restart_total",
			Help: "Module restarts requested via the Restart Queue.",
		}, []string{"module"}),
		PolicyDropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_policy_drop_total",
			Help: "Signals dropped by policy (Morphic Adapter, KYC, jurisdiction, etc).",
		}, []string{"reason"}),
		CapitalRedirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "titan_capital_redirections_total",
			Help: "Drawdown Redirector activations.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.TickTotal, r.ErrorTotal, r.TickLatency, r.HandlerLatency,
		r.BackpressureDrops, r.RestartTotal, r.PolicyDropTotal, r.CapitalRedirects,
	} {
		_ = reg.Register(c) // duplicate registration across tests is tolerated by callers using their own registry
	}

	return r
}

// ObserveTick records a tick invocation's latency for module.
func (r *Registry) ObserveTick(module string, d time.Duration) {
	r.TickTotal.WithLabelValues(module).Inc()
	r.TickLatency.WithLabelValues(module).Observe(d.Seconds())
}

// ObserveHandler records a message handler's latency for module/channel.
func (r *Registry) ObserveHandler(module, channel string, d time.Duration) {
	r.HandlerLatency.WithLabelValues(module, channel).Observe(d.Seconds())
}

// ObserveError increments the error counter for module/kind.
func (r *Registry) ObserveError(module, kind string) {
	r.ErrorTotal.WithLabelValues(module, kind).Inc()
}
