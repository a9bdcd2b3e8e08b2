// Package failover implements Failover & Observability (§4.11): the
// Region Failover Manager, the Redis Heartbeat, the Latency Heatmap
// Producer, the Chaos Monitor, and the system-wide
// Normal/Degraded/Hibernating/Recovered state machine.
package failover

import (
	"context"
	"encoding/json"
	"time"

	"titan/internal/bus"
	"titan/internal/errkind"
)

// FailoverActiveKey is the normative durable key recording whether the
// secondary Bus backend is live (§6).
const FailoverActiveKey = "titan:infra:failover_active"

const failoverKeyTTL = 30 * 24 * time.Hour

// HealthChecker is anything the Region Failover Manager can poll for
// liveness: the primary Bus and a selected external-API health
// endpoint both satisfy this with a thin adapter.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ActiveSwitcher is the narrow FailoverBus surface the Manager drives.
type ActiveSwitcher interface {
	SetActive(ctx context.Context, useSecondary bool)
	IsSecondaryActive() bool
}

// Manager implements the Region Failover Manager (§4.11): it polls
// primary-bus health and an external-API health endpoint; if either is
// down and the secondary is up, it flips the Bus to the secondary and
// records titan:infra:failover_active=true.
type Manager struct {
	bus        bus.Bus // used only to persist the durable flag
	switcher   ActiveSwitcher
	primary    HealthChecker
	externalAPI HealthChecker
	secondary  HealthChecker
}

// NewManager constructs a Manager. externalAPI may be nil if no
// external health endpoint is configured for this deployment.
func NewManager(b bus.Bus, switcher ActiveSwitcher, primary, secondary, externalAPI HealthChecker) *Manager {
	return &Manager{bus: b, switcher: switcher, primary: primary, secondary: secondary, externalAPI: externalAPI}
}

// Tick polls primary and externalAPI health; on failure of either,
// with secondary healthy, it fails over. It recovers back to primary
// once primary (and externalAPI, if configured) are both healthy
// again.
func (m *Manager) Tick(ctx context.Context) (failedOver bool, err error) {
	primaryHealthy := m.primary.Ping(ctx) == nil
	externalHealthy := m.externalAPI == nil || m.externalAPI.Ping(ctx) == nil
	secondaryHealthy := m.secondary.Ping(ctx) == nil

	shouldFailover := (!primaryHealthy || !externalHealthy) && secondaryHealthy

	if shouldFailover == m.switcher.IsSecondaryActive() {
		return shouldFailover, nil
	}

	m.switcher.SetActive(ctx, shouldFailover)
	if err := m.setFlag(ctx, shouldFailover); err != nil {
		return shouldFailover, err
	}
	return shouldFailover, nil
}

func (m *Manager) setFlag(ctx context.Context, active bool) error {
	val := []byte("false")
	if active {
		val = []byte("true")
	}
	return m.bus.Set(ctx, FailoverActiveKey, val, failoverKeyTTL)
}

func heartbeatKey() string { return "titan:infra:redis_heartbeat" }

// DefaultHeartbeatInterval is HEARTBEAT_INTERVAL (§4.11, §8 scenario
// 5: failover trips after >2x this interval of missed pings).
const DefaultHeartbeatInterval = 10 * time.Second

const heartbeatTTL = time.Hour

// Heartbeat implements the Redis Heartbeat (§4.11): it writes a
// timestamp every HEARTBEAT_INTERVAL and reports whether the last
// write is stale enough to count as a missed ping.
type Heartbeat struct {
	bus      bus.Bus
	interval time.Duration
}

// NewHeartbeat constructs a Heartbeat; zero interval falls back to
// DefaultHeartbeatInterval.
func NewHeartbeat(b bus.Bus, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{bus: b, interval: interval}
}

// Beat writes the current timestamp.
func (h *Heartbeat) Beat(ctx context.Context) error {
	data, err := json.Marshal(time.Now().UnixMilli())
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "failover.Heartbeat.Beat", "encode failed", err)
	}
	return h.bus.Set(ctx, heartbeatKey(), data, heartbeatTTL)
}

// Stale reports whether the last heartbeat is older than
// 2*interval, the §8 scenario 5 failover trigger condition.
func (h *Heartbeat) Stale(ctx context.Context, now time.Time) (bool, error) {
	data, err := h.bus.Get(ctx, heartbeatKey())
	if err == bus.ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	var millis int64
	if err := json.Unmarshal(data, &millis); err != nil {
		return true, nil
	}
	return now.Sub(time.UnixMilli(millis)) > 2*h.interval, nil
}
