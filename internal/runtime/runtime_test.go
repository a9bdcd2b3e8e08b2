package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/bus"
	"titan/internal/errkind"
	"titan/internal/metrics"
)

func newTestRuntime(t *testing.T, cfg Config) (*Runtime, bus.Bus) {
	t.Helper()
	b := bus.NewMemoryBus()
	cfg.Bus = b
	cfg.Metrics = metrics.New(prometheus.NewRegistry())
	if cfg.Name == "" {
		cfg.Name = "test-module"
	}
	return New(cfg), b
}

func TestRuntime_TickInvokedOnSchedule(t *testing.T) {
	r, _ := newTestRuntime(t, Config{})
	var calls int64

	r.OnTick(10*time.Millisecond, func(ctx context.Context, now time.Time, mode string) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))

	time.Sleep(55 * time.Millisecond)
	cancel()
	_ = r.Stop(context.Background())

	assert.GreaterOrEqual(t, atomic.LoadInt64(&calls), int64(3))
}

func TestRuntime_SubscriptionDispatchesMessages(t *testing.T) {
	r, b := newTestRuntime(t, Config{})
	received := make(chan []byte, 1)

	r.OnMessage("titan:core:signal", func(ctx context.Context, channel string, payload []byte) error {
		received <- payload
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	time.Sleep(10 * time.Millisecond) // allow subscribe to establish
	require.NoError(t, b.Publish(ctx, "titan:core:signal", []byte("payload")))

	select {
	case p := <-received:
		assert.Equal(t, "payload", string(p))
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestRuntime_ChaosHookTripsSimulatedFailure(t *testing.T) {
	r, _ := newTestRuntime(t, Config{
		ChaosMode: true,
		Chaos:     fixedChaos{armed: true},
	})

	var calls int64
	r.OnTick(10*time.Millisecond, func(ctx context.Context, now time.Time, mode string) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	time.Sleep(40 * time.Millisecond)
	cancel()
	_ = r.Stop(context.Background())

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls), "tick body must not run when chaos is armed")
}

func TestRuntime_FatalErrorTriggersOnFatal(t *testing.T) {
	var triggered int64
	r, _ := newTestRuntime(t, Config{
		OnFatal: func(ctx context.Context, name string, cause error) {
			atomic.AddInt64(&triggered, 1)
		},
	})

	r.OnTick(10*time.Millisecond, func(ctx context.Context, now time.Time, mode string) error {
		return errkind.New(errkind.Fatal, "test", "boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	time.Sleep(30 * time.Millisecond)
	cancel()
	_ = r.Stop(context.Background())

	assert.GreaterOrEqual(t, atomic.LoadInt64(&triggered), int64(1))
}

func TestRuntime_StopDrainsWithinDeadline(t *testing.T) {
	r, _ := newTestRuntime(t, Config{})
	r.OnTick(5*time.Millisecond, func(ctx context.Context, now time.Time, mode string) error {
		return nil
	})

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(context.Background()) }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

type fixedChaos struct{ armed bool }

func (f fixedChaos) Armed(ctx context.Context, module string) (bool, error) { return f.armed, nil }
