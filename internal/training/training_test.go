package training

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/bus"
)

func TestScheduler_TriggerRetrainPublishesRequest(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	s := NewScheduler(b, ScheduleDrift)

	sub, err := b.Subscribe(ctx, TrainingChannel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.TriggerRetrain(ctx, "momentum_model"))

	select {
	case payload := <-sub.C():
		var req RetrainRequest
		require.NoError(t, json.Unmarshal(payload, &req))
		assert.Equal(t, "momentum_model", req.ModelName)
		assert.Equal(t, "retrain", req.Action)
	default:
		t.Fatal("expected a retrain request")
	}
}

func TestScheduler_CheckDriftNoopWithoutFlag(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	s := NewScheduler(b, ScheduleDrift)

	retrained, err := s.CheckDrift(ctx, "momentum_model")
	require.NoError(t, err)
	assert.False(t, retrained)
}

func TestScheduler_CheckDriftTriggersWhenFlagged(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	s := NewScheduler(b, ScheduleDrift)

	require.NoError(t, s.FlagDrift(ctx, "momentum_model", time.Minute))

	sub, err := b.Subscribe(ctx, TrainingChannel)
	require.NoError(t, err)
	defer sub.Close()

	retrained, err := s.CheckDrift(ctx, "momentum_model")
	require.NoError(t, err)
	assert.True(t, retrained)

	select {
	case <-sub.C():
	default:
		t.Fatal("expected a retrain request once drift is flagged")
	}
}

func TestScheduler_TickRetrainsOnMondayUnderWeeklySchedule(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	s := NewScheduler(b, ScheduleWeekly)

	sub, err := b.Subscribe(ctx, TrainingChannel)
	require.NoError(t, err)
	defer sub.Close()

	monday := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Tick(ctx, monday, "momentum_model"))

	select {
	case <-sub.C():
	default:
		t.Fatal("expected a retrain request on Monday under the weekly schedule")
	}

	tuesday := monday.Add(24 * time.Hour)
	require.NoError(t, s.Tick(ctx, tuesday, "momentum_model"))
	select {
	case <-sub.C():
		t.Fatal("did not expect a retrain request off-schedule")
	default:
	}
}
