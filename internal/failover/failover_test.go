package failover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/bus"
)

type fakeHealth struct{ healthy bool }

func (f fakeHealth) Ping(ctx context.Context) error {
	if f.healthy {
		return nil
	}
	return assertErr
}

var assertErr = errFake{}

type errFake struct{}

func (errFake) Error() string { return "down" }

func TestManager_FailsOverWhenPrimaryDown(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	fb := bus.NewFailoverBus(bus.NewMemoryBus(), bus.NewMemoryBus())

	mgr := NewManager(b, fb, fakeHealth{healthy: false}, fakeHealth{healthy: true}, nil)
	failed, err := mgr.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, failed)
	assert.True(t, fb.IsSecondaryActive())

	data, err := b.Get(ctx, FailoverActiveKey)
	require.NoError(t, err)
	assert.Equal(t, "true", string(data))
}

func TestManager_StaysOnPrimaryWhenHealthy(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	fb := bus.NewFailoverBus(bus.NewMemoryBus(), bus.NewMemoryBus())

	mgr := NewManager(b, fb, fakeHealth{healthy: true}, fakeHealth{healthy: true}, nil)
	failed, err := mgr.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, failed)
	assert.False(t, fb.IsSecondaryActive())
}

func TestHeartbeat_StaleAfterTwoIntervals(t *testing.T) {
	ctx := context.Background()
	hb := NewHeartbeat(bus.NewMemoryBus(), 10*time.Millisecond)

	stale, err := hb.Stale(ctx, time.Now())
	require.NoError(t, err)
	assert.True(t, stale, "no heartbeat yet should count as stale")

	require.NoError(t, hb.Beat(ctx))
	stale, err = hb.Stale(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, stale)

	stale, err = hb.Stale(ctx, time.Now().Add(30*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestChaosMonitor_TripsAboveThreshold(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(bus.NewMemoryBus(), 0.5, 0.5, func() float64 { return 0.9 })
	tripped, score, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.InDelta(t, 0.9, score, 1e-9)
}

func TestChaosMonitor_ArmDisarm(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(bus.NewMemoryBus(), 0.5, 0.5, func() float64 { return 0 })

	armed, err := m.Armed(ctx, "noise_reducer")
	require.NoError(t, err)
	assert.False(t, armed)

	require.NoError(t, m.Arm(ctx, "noise_reducer"))
	armed, err = m.Armed(ctx, "noise_reducer")
	require.NoError(t, err)
	assert.True(t, armed)

	require.NoError(t, m.Disarm(ctx, "noise_reducer"))
	armed, err = m.Armed(ctx, "noise_reducer")
	require.NoError(t, err)
	assert.False(t, armed)
}

func TestHeatmapProducer_BucketsAndSortsSnapshot(t *testing.T) {
	p := NewHeatmapProducer()
	p.Observe(Sample{From: "router", To: "execution", Latency: 2 * time.Millisecond})
	p.Observe(Sample{From: "router", To: "execution", Latency: 2 * time.Millisecond})
	p.Observe(Sample{From: "integrity", To: "noise", Latency: time.Second})

	snap := p.Snapshot(time.Now())
	require.Len(t, snap.Cells, 2)
	assert.Equal(t, "integrity", snap.Cells[0].From)
	assert.Equal(t, int64(2), snap.Cells[1].Count)
}

func TestStateMachine_HibernatingBlocksDegraded(t *testing.T) {
	ctx := context.Background()
	sm := NewStateMachine(bus.NewMemoryBus())

	require.NoError(t, sm.EnterHibernating(ctx))
	entered, err := sm.EnterDegraded(ctx, 10, true, true)
	require.NoError(t, err)
	assert.False(t, entered)

	current, err := sm.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateHibernating, current)
}

func TestStateMachine_RecoverRequiresHibernating(t *testing.T) {
	ctx := context.Background()
	sm := NewStateMachine(bus.NewMemoryBus())
	err := sm.Recover(ctx)
	assert.Error(t, err)
}

func TestStateMachine_FullRecoveryCycle(t *testing.T) {
	ctx := context.Background()
	sm := NewStateMachine(bus.NewMemoryBus())

	require.NoError(t, sm.EnterHibernating(ctx))
	require.NoError(t, sm.Recover(ctx))
	require.NoError(t, sm.ReturnToNormal(ctx))

	current, err := sm.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNormal, current)
}

func TestRecoveryReporter_ProducesNonEmptySteps(t *testing.T) {
	now := time.Now()
	r := NewRecoveryReporter(now)
	r.Step(now.Add(time.Second), "halted_routing", "router paused all publications")
	r.Step(now.Add(2*time.Second), "admin_resume", "operator issued resume command")

	report := r.Finish(now.Add(3*time.Second), "recovered")
	assert.NotEmpty(t, report.Steps)
	assert.Equal(t, "recovered", report.Outcome)
}
