package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/bus"
)

func sampleSignal(symbol string, side Side, confidence float64) Signal {
	s := New(symbol, side, 0.1, confidence, "momentum", "acme", time.Minute)
	s.HistoricalSuccess = confidence
	s.AIScore = confidence
	return s
}

func TestSignal_ValidRejectsOutOfRangeConfidence(t *testing.T) {
	s := sampleSignal("BTCUSDT", SideBuy, 0.9)
	s.Confidence = 1.5
	assert.False(t, s.Valid())
}

func TestSignal_WithVerdictAppendsWithoutMutatingEarlierEntries(t *testing.T) {
	s := sampleSignal("BTCUSDT", SideBuy, 0.9)
	s1 := s.WithVerdict(StageIntegrity, VerdictPass, "")
	s2 := s1.WithVerdict(StageNoise, VerdictPass, "")
	require.Len(t, s2.Provenance, 2)
	assert.Equal(t, StageIntegrity, s2.Provenance[0].Stage)
	assert.Len(t, s1.Provenance, 1, "appending to s1's derivative must not grow s1 itself")
}

func TestIntegrityChecker_DropsInvalidSignal(t *testing.T) {
	s := sampleSignal("BTCUSDT", SideBuy, 0.9)
	s.Quantity = 0
	out := IntegrityChecker{}.Check(s)
	assert.False(t, out.Forward)
	assert.Equal(t, VerdictInvalid, out.Verdict)
}

func TestNoiseReducer_DropsIdenticalWithinWindow(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	nr := NewNoiseReducer(b, time.Minute)

	s := sampleSignal("BTCUSDT", SideBuy, 0.9)
	out1, err := nr.Check(ctx, s)
	require.NoError(t, err)
	assert.True(t, out1.Forward)

	s2 := sampleSignal("BTCUSDT", SideBuy, 0.8)
	s2.Strategy = s.Strategy
	out2, err := nr.Check(ctx, s2)
	require.NoError(t, err)
	assert.False(t, out2.Forward)
	assert.Equal(t, VerdictDuplicate, out2.Verdict)
}

func TestAlignmentFrontLoader_EmitsBoostedSignalOnceThresholdMet(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	loader := NewAlignmentFrontLoader(b, time.Minute, 3, 2.0)

	var lastOut []Outcome
	for i, strategy := range []string{"momentum", "meanrev", "breakout"} {
		s := sampleSignal("BTCUSDT", SideBuy, 0.8)
		s.Strategy = strategy
		out, err := loader.Check(ctx, s)
		require.NoError(t, err)
		lastOut = out
		_ = i
	}

	require.Len(t, lastOut, 2, "the third aligned signal must emit both itself and the boosted derived signal")
	assert.Equal(t, VerdictAligned, lastOut[1].Verdict)
	assert.Greater(t, lastOut[1].Signal.Quantity, lastOut[0].Signal.Quantity)
}

func TestTrustAnalyzer_DropsBelowThreshold(t *testing.T) {
	analyzer := NewTrustAnalyzer(0.6, 0.4, 0.55)
	s := sampleSignal("BTCUSDT", SideBuy, 0.9)
	s.HistoricalSuccess = 0.3
	s.AIScore = 0.3

	out := analyzer.Check(s)
	assert.False(t, out.Forward)
}

func TestCollisionDetector_LoneSurvivorPassesOnFlush(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	cd := NewCollisionDetector(b, time.Second)

	s := sampleSignal("BTCUSDT", SideBuy, 0.8)
	require.NoError(t, cd.Observe(ctx, s))

	out, err := cd.Flush(ctx, "acme", "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Forward)
}

func TestCollisionDetector_BothSidesPublishesConflictAndForwardsNeither(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	cd := NewCollisionDetector(b, time.Second)

	sub, err := b.Subscribe(ctx, ConflictsChannel)
	require.NoError(t, err)
	defer sub.Close()

	buy := sampleSignal("BTCUSDT", SideBuy, 0.8)
	sell := sampleSignal("BTCUSDT", SideSell, 0.9)
	require.NoError(t, cd.Observe(ctx, buy))
	require.NoError(t, cd.Observe(ctx, sell))

	out, err := cd.Flush(ctx, "acme", "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, out, "a genuine two-sided collision escalates rather than self-resolving")

	select {
	case <-sub.C():
	default:
		t.Fatal("expected a ConflictEvent for escalation")
	}
}

func TestConflictEscalationManager_HigherTrustWins(t *testing.T) {
	a := sampleSignal("BTCUSDT", SideBuy, 0.8)
	a.HistoricalSuccess, a.AIScore = 0.9, 0.9
	b := sampleSignal("BTCUSDT", SideSell, 0.9)
	b.HistoricalSuccess, b.AIScore = 0.2, 0.2

	mgr := NewConflictEscalationManager(0.6, 0.4)
	result := mgr.Resolve(ConflictEvent{Symbol: "BTCUSDT", Winner: a, Loser: b})

	require.Nil(t, result.Override)
	require.Len(t, result.Outcomes, 2)
	assert.True(t, result.Outcomes[0].Forward)
	assert.Equal(t, a.ID, result.Outcomes[0].Signal.ID)
}

func TestConflictEscalationManager_TieBlocksBothAndEscalates(t *testing.T) {
	a := sampleSignal("BTCUSDT", SideBuy, 0.8)
	b := sampleSignal("BTCUSDT", SideSell, 0.8)
	b.HistoricalSuccess, b.AIScore = a.HistoricalSuccess, a.AIScore

	mgr := NewConflictEscalationManager(0.6, 0.4)
	result := mgr.Resolve(ConflictEvent{Symbol: "BTCUSDT", Winner: a, Loser: b})

	require.NotNil(t, result.Override)
	for _, o := range result.Outcomes {
		assert.False(t, o.Forward)
	}
}

func TestOverlapResolver_BlocksSignalExceedingPositionCap(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	resolver := NewOverlapResolver(b, 1.0)

	s1 := sampleSignal("BTCUSDT", SideBuy, 0.9)
	s1.Quantity = 0.8
	out1, err := resolver.Check(ctx, s1)
	require.NoError(t, err)
	assert.True(t, out1.Forward)

	s2 := sampleSignal("BTCUSDT", SideBuy, 0.9)
	s2.Quantity = 0.8
	out2, err := resolver.Check(ctx, s2)
	require.NoError(t, err)
	assert.False(t, out2.Forward)
	assert.Equal(t, VerdictBlocked, out2.Verdict)
	assert.Equal(t, 0.0, out2.Signal.Quantity)
}

func TestContextWindowFilter_DropsOutsideTradingHours(t *testing.T) {
	filter := NewContextWindowFilter(map[string]TradingHours{
		"acme": {StartHour: 9, EndHour: 17},
	})
	s := sampleSignal("BTCUSDT", SideBuy, 0.9)

	inHours := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	outHours := time.Date(2026, 1, 5, 22, 0, 0, 0, time.UTC)

	assert.True(t, filter.Check(s, inHours).Forward)
	assert.False(t, filter.Check(s, outHours).Forward)
}

func TestRouter_PublishesToExecutionChannel(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	router := NewRouter(b)

	sub, err := b.Subscribe(ctx, ExecutionChannel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, router.Route(ctx, sampleSignal("BTCUSDT", SideBuy, 0.9)))

	select {
	case <-sub.C():
	default:
		t.Fatal("expected signal published to execution channel")
	}
}
