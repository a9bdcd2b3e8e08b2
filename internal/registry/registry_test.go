package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/bus"
	"titan/internal/runtime"
)

func TestRegistry_RegisterIsIdempotentOnNameVersion(t *testing.T) {
	b := bus.NewMemoryBus()
	reg := New(b)
	ctx := context.Background()

	rec := Record{Name: "signal-router", Version: "1.0.0", Type: runtime.TypeRouter,
		DeclaredKeys: []string{"titan:*:signal:*"}}

	require.NoError(t, reg.Register(ctx, rec))
	require.NoError(t, reg.Register(ctx, rec))

	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, StatusLive, list[0].Status)
}

func TestRegistry_HeartbeatRefreshesWithoutResettingRecord(t *testing.T) {
	b := bus.NewMemoryBus()
	reg := New(b)
	ctx := context.Background()

	rec := Record{Name: "exec-controller", Version: "2.1.0"}
	require.NoError(t, reg.Register(ctx, rec))
	require.NoError(t, reg.SetStatus(ctx, "exec-controller", "2.1.0", StatusCanary))

	require.NoError(t, reg.Heartbeat(ctx, "exec-controller", "2.1.0"))

	got, err := reg.Get(ctx, "exec-controller", "2.1.0")
	require.NoError(t, err)
	assert.Equal(t, StatusCanary, got.Status, "heartbeat must not secretly retire or reset status")
}

func TestHealthMonitor_LowScoreEscalatesThroughRestartCanaryRetired(t *testing.T) {
	b := bus.NewMemoryBus()
	reg := New(b)
	queue := NewRestartQueue(b, reg)
	hm := NewHealthMonitor(b, reg, queue)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Record{Name: "alloc", Version: "1.0.0"}))

	unhealthy := Indicators{TTLDecayRatio: 1, PendingTaskLeak: 1, MemoryGrowth: 1, CPUOveruse: 1}

	score, action, err := hm.Evaluate(ctx, "alloc", "1.0.0", unhealthy)
	require.NoError(t, err)
	assert.Less(t, score, 0.5)
	assert.Equal(t, "restart", action)

	_, action, err = hm.Evaluate(ctx, "alloc", "1.0.0", unhealthy)
	require.NoError(t, err)
	assert.Equal(t, "restart", action)

	_, action, err = hm.Evaluate(ctx, "alloc", "1.0.0", unhealthy)
	require.NoError(t, err)
	assert.Equal(t, "canary", action)

	rec, err := reg.Get(ctx, "alloc", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, StatusCanary, rec.Status)
}

func TestHealthMonitor_HealthyScoreResetsTriggerStreak(t *testing.T) {
	b := bus.NewMemoryBus()
	reg := New(b)
	queue := NewRestartQueue(b, reg)
	hm := NewHealthMonitor(b, reg, queue)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, Record{Name: "router", Version: "1.0.0"}))

	unhealthy := Indicators{TTLDecayRatio: 1, PendingTaskLeak: 1, MemoryGrowth: 1, CPUOveruse: 1}
	healthy := Indicators{}

	_, _, err := hm.Evaluate(ctx, "router", "1.0.0", unhealthy)
	require.NoError(t, err)
	_, action, err := hm.Evaluate(ctx, "router", "1.0.0", healthy)
	require.NoError(t, err)
	assert.Equal(t, "", action)

	_, action, err = hm.Evaluate(ctx, "router", "1.0.0", unhealthy)
	require.NoError(t, err)
	assert.Equal(t, "restart", action, "trigger streak must have reset after the healthy sample")
}

func TestRestartQueue_DropsAndAlertsAfterMaxRetries(t *testing.T) {
	b := bus.NewMemoryBus()
	reg := New(b)
	queue := NewRestartQueue(b, reg)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, Record{Name: "phantom-detector", Version: "1.0.0"}))

	alerts, err := b.Subscribe(ctx, AlertChannel)
	require.NoError(t, err)
	defer alerts.Close()

	for i := 0; i < DefaultMaxRetries; i++ {
		require.NoError(t, queue.Enqueue(ctx, "phantom-detector", "1.0.0", errors.New("unhealthy")))
	}
	require.NoError(t, queue.Enqueue(ctx, "phantom-detector", "1.0.0", errors.New("unhealthy")))

	select {
	case <-alerts.C():
	default:
		t.Fatal("expected an alert once retries were exhausted")
	}

	rec, err := reg.Get(ctx, "phantom-detector", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, StatusRetired, rec.Status)
}

func TestResolver_DetectsKeyOverlapBetweenModules(t *testing.T) {
	b := bus.NewMemoryBus()
	reg := New(b)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Record{Name: "alloc-a", Version: "1.0.0",
		DeclaredKeys: []string{"titan:*:capital:*"}}))
	require.NoError(t, reg.Register(ctx, Record{Name: "alloc-b", Version: "1.0.0",
		DeclaredKeys: []string{"titan:*:capital:book"}}))

	resolver := NewResolver(b, reg)
	violations, err := resolver.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "key_overlap", violations[0].Kind)
	assert.True(t, violations[0].CriticalPath)
}

func TestResolver_ValidateWriteRejectsUndeclaredKey(t *testing.T) {
	b := bus.NewMemoryBus()
	reg := New(b)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, Record{Name: "signal-router", Version: "1.0.0",
		DeclaredKeys: []string{"titan:*:signal:*"}}))

	resolver := NewResolver(b, reg)
	err := resolver.ValidateWrite(ctx, "signal-router", "1.0.0", "titan:acme:trade:order-1")
	assert.Error(t, err)
}
