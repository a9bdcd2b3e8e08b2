package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/alerting/channel"
	"titan/internal/bus"
	"titan/internal/errkind"
)

type fakeChannel struct {
	sent []channel.Message
}

func (f *fakeChannel) Type() channel.ChannelType { return channel.ChannelTypeEmail }
func (f *fakeChannel) Send(ctx context.Context, msg channel.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) Test(ctx context.Context, recipient string) error { return nil }

func TestDispatcher_SendsAndArmsCooldown(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	d := NewDispatcher(bus.NewMemoryBus(), ch, []string{"ops@example.com"})

	sent, err := d.Dispatch(ctx, Event{Kind: errkind.PolicyViolation, Severity: SeverityCritical, Module: "capital"})
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, ch.sent, 1)
}

func TestDispatcher_SuppressesDuringCooldown(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	d := NewDispatcher(bus.NewMemoryBus(), ch, nil).WithCooldown(time.Hour)

	sent, err := d.Dispatch(ctx, Event{Kind: errkind.Fatal, Module: "failover"})
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = d.Dispatch(ctx, Event{Kind: errkind.Fatal, Module: "failover"})
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, ch.sent, 1)
}

func TestDispatcher_NoChannelConfiguredNeverSends(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(bus.NewMemoryBus(), nil, nil)

	sent, err := d.Dispatch(ctx, Event{Kind: errkind.Timeout, Module: "execution"})
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestDispatcher_DistinctKindsDoNotShareCooldown(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	d := NewDispatcher(bus.NewMemoryBus(), ch, nil)

	_, err := d.Dispatch(ctx, Event{Kind: errkind.Fatal, Module: "registry"})
	require.NoError(t, err)
	sent, err := d.Dispatch(ctx, Event{Kind: errkind.PolicyViolation, Module: "registry"})
	require.NoError(t, err)
	assert.True(t, sent)
}
