package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailoverBus_SwitchesActiveBackend(t *testing.T) {
	primary := NewMemoryBus()
	secondary := NewMemoryBus()
	fb := NewFailoverBus(primary, secondary)
	ctx := context.Background()

	require.NoError(t, fb.Set(ctx, "k", []byte("primary-value"), time.Minute))
	v, err := primary.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "primary-value", string(v))

	fb.SetActive(ctx, true)
	assert.True(t, fb.IsSecondaryActive())

	require.NoError(t, fb.Set(ctx, "k2", []byte("secondary-value"), time.Minute))
	v2, err := secondary.Get(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, "secondary-value", string(v2))
}

func TestFailoverBus_SubscriptionSurvivesCutover(t *testing.T) {
	primary := NewMemoryBus()
	secondary := NewMemoryBus()
	fb := NewFailoverBus(primary, secondary)
	ctx := context.Background()

	sub, err := fb.Subscribe(ctx, "titan:core:signal")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, primary.Publish(ctx, "titan:core:signal", []byte("from-primary")))
	select {
	case payload := <-sub.C():
		assert.Equal(t, "from-primary", string(payload))
	case <-time.After(time.Second):
		t.Fatal("did not receive message from primary")
	}

	fb.SetActive(ctx, true)
	time.Sleep(20 * time.Millisecond) // allow migrate() to re-subscribe

	require.NoError(t, secondary.Publish(ctx, "titan:core:signal", []byte("from-secondary")))
	select {
	case payload := <-sub.C():
		assert.Equal(t, "from-secondary", string(payload))
	case <-time.After(time.Second):
		t.Fatal("did not receive message from secondary after cutover")
	}
}

func TestFailoverBus_PingReportsDegradedWhenOnlySecondaryUp(t *testing.T) {
	primary := &alwaysFailingBus{Bus: NewMemoryBus()}
	secondary := NewMemoryBus()
	fb := NewFailoverBus(primary, secondary)

	err := fb.Ping(context.Background())
	require.Error(t, err)
}

type alwaysFailingBus struct {
	Bus
}

func (a *alwaysFailingBus) Ping(ctx context.Context) error {
	return assertErr
}

var assertErr = &pingErr{}

type pingErr struct{}

func (p *pingErr) Error() string { return "primary down" }
