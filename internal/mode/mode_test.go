package mode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/bus"
	"titan/internal/envconfig"
	"titan/internal/errkind"
)

func TestGovernor_CurrentModeDefaultsWhenUnset(t *testing.T) {
	g := NewGovernor(bus.NewMemoryBus(), nil, "admin")
	m, err := g.CurrentMode(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, string(envconfig.ModeDefault), m)
}

func TestGovernor_RequestChangeAppliesAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	g := NewGovernor(b, nil, "admin")

	sub, err := b.Subscribe(ctx, ChannelFor("acme"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, g.RequestChange(ctx, ChangeRequest{TenantID: "acme", Mode: envconfig.ModeAlphaPush, RequesterScope: "admin"}))

	m, err := g.CurrentMode(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, string(envconfig.ModeAlphaPush), m)

	select {
	case <-sub.C():
	default:
		t.Fatal("expected mode change broadcast")
	}
}

func TestGovernor_RejectsUnauthorizedScope(t *testing.T) {
	g := NewGovernor(bus.NewMemoryBus(), nil, "admin")
	err := g.RequestChange(context.Background(), ChangeRequest{TenantID: "acme", Mode: envconfig.ModeAlphaPush, RequesterScope: "anonymous"})
	require.Error(t, err)
	kind, _ := errkind.KindOf(err)
	assert.Equal(t, errkind.PolicyViolation, kind)
}

func TestGovernor_RejectsUnknownMode(t *testing.T) {
	g := NewGovernor(bus.NewMemoryBus(), nil, "admin")
	err := g.RequestChange(context.Background(), ChangeRequest{TenantID: "acme", Mode: "nonexistent", RequesterScope: "admin"})
	require.Error(t, err)
}

func TestAdapter_DropsLowConfidenceUnderAlphaPush(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	g := NewGovernor(b, nil, "admin")
	require.NoError(t, g.RequestChange(ctx, ChangeRequest{TenantID: "acme", Mode: envconfig.ModeAlphaPush, RequesterScope: "admin"}))

	adapter := NewAdapter(g)
	_, err := adapter.Apply(ctx, "acme", SignalFields{Confidence: 0.65, Leverage: 3})
	require.Error(t, err)
	kind, _ := errkind.KindOf(err)
	assert.Equal(t, errkind.PolicyViolation, kind)
}

func TestAdapter_ClampsLeverageToModeMax(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	g := NewGovernor(b, nil, "admin")

	out, err := NewAdapter(g).Apply(ctx, "acme", SignalFields{Confidence: 0.9, Leverage: 10})
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.Leverage, "default mode caps leverage at 3")
}

func TestAdapter_ApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	g := NewGovernor(b, nil, "admin")
	require.NoError(t, g.RequestChange(ctx, ChangeRequest{TenantID: "acme", Mode: envconfig.ModeAlphaPush, RequesterScope: "admin"}))

	adapter := NewAdapter(g)
	once, err := adapter.Apply(ctx, "acme", SignalFields{Confidence: 0.8, Leverage: 3, TTL: time.Minute})
	require.NoError(t, err)

	twice, err := adapter.Apply(ctx, "acme", once)
	require.NoError(t, err)

	assert.Equal(t, once, twice, "applying the Morphic Adapter twice must equal applying it once")
}

func TestPersonaShifter_SevereDrawdownShiftsToCapitalPreservation(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	g := NewGovernor(b, nil, PersonaScope)
	shifter := NewPersonaShifter(g, DefaultThresholds())

	target, err := shifter.Observe(ctx, "acme", 80000, 100000)
	require.NoError(t, err)
	assert.Equal(t, envconfig.ModeCapitalPreservation, target)

	current, err := g.CurrentMode(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, string(envconfig.ModeCapitalPreservation), current)
}

func TestPersonaShifter_NoCrossoverIsNoop(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	g := NewGovernor(b, nil, PersonaScope)
	shifter := NewPersonaShifter(g, DefaultThresholds())

	target, err := shifter.Observe(ctx, "acme", 99000, 100000)
	require.NoError(t, err)
	assert.Equal(t, envconfig.MorphicMode(""), target)
}
