package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/errkind"
)

func TestMemoryBus_SetGet(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "titan:t1:signal:raw:BTCUSDT", []byte("hello"), time.Minute))

	v, err := b.Get(ctx, "titan:t1:signal:raw:BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(v))
}

func TestMemoryBus_SetRejectsNonPositiveTTL(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	err := b.Set(ctx, "k", []byte("v"), 0)
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.InvalidTTL, kind)

	err = b.Set(ctx, "k", []byte("v"), -time.Second)
	require.Error(t, err)
}

func TestMemoryBus_GetExpired(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBus_Incr(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		v, err := b.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestMemoryBus_Scan(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "titan:t1:signal:raw:A", []byte("1"), time.Minute))
	require.NoError(t, b.Set(ctx, "titan:t1:signal:raw:B", []byte("2"), time.Minute))
	require.NoError(t, b.Set(ctx, "titan:t2:signal:raw:A", []byte("3"), time.Minute))

	keys, err := b.Scan(ctx, "titan:t1:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestMemoryBus_PublishSubscribe_PerChannelFIFO(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, "titan:core:signal")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "titan:core:signal", []byte{byte(i)}))
	}

	for i := 0; i < 5; i++ {
		select {
		case payload := <-sub.C():
			assert.Equal(t, byte(i), payload[0])
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestMemoryBus_SubscribeCancelReleasesAtomically(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := b.Subscribe(ctx, "titan:control:manual")
	require.NoError(t, err)

	cancel()
	time.Sleep(20 * time.Millisecond)

	_, open := <-sub.C()
	assert.False(t, open, "subscription channel should be closed after cancellation")
}

func TestMemoryBus_BackpressureDropsOldestOnOverflow(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "titan:signal:pipeline:noise")
	require.NoError(t, err)
	defer sub.Close()

	// Flood well past the backlog capacity; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBacklog*4; i++ {
			_ = b.Publish(ctx, "titan:signal:pipeline:noise", []byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked under backpressure")
	}

	// The newest payload survives overflow; older ones make room for it.
	require.NoError(t, b.Publish(ctx, "titan:signal:pipeline:noise", []byte("newest")))
	var last []byte
	for len(sub.C()) > 0 {
		last = <-sub.C()
	}
	assert.Equal(t, "newest", string(last))
}

func TestMemoryBus_Sweep(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k1", []byte("v"), time.Millisecond))
	require.NoError(t, b.Set(ctx, "k2", []byte("v"), time.Hour))
	time.Sleep(5 * time.Millisecond)

	removed := b.Sweep()
	assert.Equal(t, 1, removed)

	_, err := b.Get(ctx, "k2")
	assert.NoError(t, err)
}
