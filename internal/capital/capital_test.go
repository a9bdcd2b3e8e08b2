package capital

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/bus"
	"titan/internal/signal"
)

func TestBook_ValidRejectsOverAllocation(t *testing.T) {
	b := Book{Allocations: map[string]float64{"a": 0.6, "b": 0.6}}
	assert.False(t, b.Valid())
}

func TestStore_MutateRejectsOverAllocation(t *testing.T) {
	ctx := context.Background()
	store := NewStore(bus.NewMemoryBus(), nil)

	_, err := store.Mutate(ctx, "acme", "test", func(b *Book) {
		b.Allocations["a"] = 0.8
		b.Allocations["b"] = 0.8
	})
	require.Error(t, err)
}

func TestStore_MutateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore(bus.NewMemoryBus(), nil)

	b1, err := store.Mutate(ctx, "acme", "init", func(b *Book) { b.Allocations["a"] = 0.1 })
	require.NoError(t, err)
	assert.Equal(t, int64(1), b1.Version)

	b2, err := store.Mutate(ctx, "acme", "bump", func(b *Book) { b.Allocations["a"] = 0.2 })
	require.NoError(t, err)
	assert.Equal(t, int64(2), b2.Version)
}

func TestAllocator_RebalanceClampsAndNormalizes(t *testing.T) {
	ctx := context.Background()
	store := NewStore(bus.NewMemoryBus(), nil)
	allocator := NewAllocator(store)

	b, err := allocator.Rebalance(ctx, "acme", []ProfitabilityRisk{
		{Strategy: "momentum", Profitability: 0.9, Risk: 0.1},
		{Strategy: "meanrev", Profitability: -0.5, Risk: 0.8},
	})
	require.NoError(t, err)
	for _, frac := range b.Allocations {
		assert.GreaterOrEqual(t, frac, MinStrategyFraction)
		assert.LessOrEqual(t, frac, MaxStrategyFraction)
	}
	assert.True(t, b.Valid())
}

func TestRateLimiter_GatesAfterOvershoot(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(bus.NewMemoryBus(), 2, time.Minute)

	require.NoError(t, rl.Allow(ctx, "acme"))
	require.NoError(t, rl.Allow(ctx, "acme"))
	err := rl.Allow(ctx, "acme")
	require.Error(t, err)

	// Tenant stays gated even on a call that would otherwise be under
	// the raw counter limit again.
	err = rl.Allow(ctx, "acme")
	require.Error(t, err)
}

func TestRateLimiter_SeparatesTenants(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(bus.NewMemoryBus(), 1, time.Minute)

	require.NoError(t, rl.Allow(ctx, "acme"))
	require.NoError(t, rl.Allow(ctx, "other"))
}

func TestVolatilityScaler_ZeroVolatilityIsUnscaled(t *testing.T) {
	scaler := NewVolatilityScaler(1.0, 10, func(string) float64 { return 0 })
	s := signal.New("BTCUSDT", signal.SideBuy, 1.0, 0.9, "momentum", "acme", time.Minute)
	out := scaler.Apply(s)
	assert.InDelta(t, 1.0, out.Quantity, 1e-9)
}

func TestVolatilityScaler_FullVolatilityZeroesQuantity(t *testing.T) {
	scaler := NewVolatilityScaler(1.0, 10, func(string) float64 { return 1 })
	s := signal.New("BTCUSDT", signal.SideBuy, 1.0, 0.9, "momentum", "acme", time.Minute)
	out := scaler.Apply(s)
	assert.InDelta(t, 0.0, out.Quantity, 1e-9)
}

func TestJurisdictionKycFilter_BlocksRestrictedPair(t *testing.T) {
	f := NewJurisdictionKycFilter(
		[]RestrictedPair{{Asset: "BTCUSDT", Jurisdiction: "US-NY"}},
		nil,
		func(string, string) KycTier { return 5 },
		func(string) string { return "US-NY" },
	)
	s := signal.New("BTCUSDT", signal.SideBuy, 1.0, 0.9, "momentum", "acme", time.Minute)
	out := f.Check(s, "user1")
	assert.False(t, out.Forward)
	assert.Equal(t, signal.VerdictBlocked, out.Verdict)
}

func TestJurisdictionKycFilter_BlocksBelowRequiredTier(t *testing.T) {
	f := NewJurisdictionKycFilter(
		nil,
		RequiredTier{"BTCUSDT": 3},
		func(string, string) KycTier { return 1 },
		func(string) string { return "US-CA" },
	)
	s := signal.New("BTCUSDT", signal.SideBuy, 1.0, 0.9, "momentum", "acme", time.Minute)
	out := f.Check(s, "user1")
	assert.False(t, out.Forward)
}

func TestJurisdictionKycFilter_AllowsSufficientTier(t *testing.T) {
	f := NewJurisdictionKycFilter(nil, RequiredTier{"BTCUSDT": 3},
		func(string, string) KycTier { return 5 },
		func(string) string { return "US-CA" },
	)
	s := signal.New("BTCUSDT", signal.SideBuy, 1.0, 0.9, "momentum", "acme", time.Minute)
	out := f.Check(s, "user1")
	assert.True(t, out.Forward)
}

func TestForcedDrawdownTrigger_SkipsWithoutProtectionEnabled(t *testing.T) {
	ctx := context.Background()
	trigger := NewForcedDrawdownTrigger(bus.NewMemoryBus(), -0.2, false)
	tripped, err := trigger.Evaluate(ctx, "acme", 70, 100)
	require.NoError(t, err)
	assert.False(t, tripped)
}

func TestForcedDrawdownTrigger_TripsOnBreach(t *testing.T) {
	ctx := context.Background()
	trigger := NewForcedDrawdownTrigger(bus.NewMemoryBus(), -0.2, true)
	tripped, err := trigger.Evaluate(ctx, "acme", 70, 100)
	require.NoError(t, err)
	assert.True(t, tripped)
}

func TestMarketCrashTrigger_RequiresBothThresholds(t *testing.T) {
	ctx := context.Background()
	trigger := NewMarketCrashTrigger(bus.NewMemoryBus(), -0.4, 0.8)

	tripped, err := trigger.Evaluate(ctx, -0.5, 0.5) // volatility too low
	require.NoError(t, err)
	assert.False(t, tripped)

	tripped, err = trigger.Evaluate(ctx, -0.5, 0.9)
	require.NoError(t, err)
	assert.True(t, tripped)
}
