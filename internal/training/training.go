// Package training implements the training-scheduler and
// drift-notification contracts spec.md Non-goal (c) scopes in: no
// model internals, only the publish/read contract a real training
// pipeline would sit behind.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"titan/internal/bus"
	"titan/internal/errkind"
)

// TrainingChannel is the normative retrain-request channel.
const TrainingChannel = "titan:ai:training"

func driftKey(modelName string) string {
	return fmt.Sprintf("titan:ai:drift:%s", modelName)
}

// RetrainRequest is the payload published on TrainingChannel.
type RetrainRequest struct {
	ModelName string `json:"model_name"`
	Action    string `json:"action"`
}

// Schedule selects how Scheduler decides when to retrain.
type Schedule string

const (
	// ScheduleWeekly retrains every tenant-local Monday.
	ScheduleWeekly Schedule = "weekly"
	// ScheduleDrift polls the drift key instead of a calendar cadence.
	ScheduleDrift Schedule = "drift"
)

// DefaultSchedule mirrors TRAINING_SCHEDULE's default.
const DefaultSchedule = ScheduleWeekly

// Scheduler owns the two contracts: triggering a retrain and checking
// for an externally flagged drift signal. It has no opinion on what a
// "model" is — modelName is an opaque label the retraining system on
// the other end of TrainingChannel interprets.
type Scheduler struct {
	bus      bus.Bus
	schedule Schedule
}

// NewScheduler constructs a Scheduler; an empty schedule falls back to
// DefaultSchedule.
func NewScheduler(b bus.Bus, schedule Schedule) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{bus: b, schedule: schedule}
}

// TriggerRetrain publishes a retrain request for modelName.
func (s *Scheduler) TriggerRetrain(ctx context.Context, modelName string) error {
	data, err := json.Marshal(RetrainRequest{ModelName: modelName, Action: "retrain"})
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "training.Scheduler.TriggerRetrain", "encode failed", err)
	}
	return s.bus.Publish(ctx, TrainingChannel, data)
}

// CheckDrift reads modelName's drift key and triggers a retrain if it
// is set to "true"; it returns whether a retrain was triggered.
func (s *Scheduler) CheckDrift(ctx context.Context, modelName string) (bool, error) {
	data, err := s.bus.Get(ctx, driftKey(modelName))
	if err == bus.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if string(data) != "true" {
		return false, nil
	}
	return true, s.TriggerRetrain(ctx, modelName)
}

// FlagDrift sets modelName's drift key, for the (external) drift
// detector side of the contract; ttl bounds how long an unconsumed
// flag is retained.
func (s *Scheduler) FlagDrift(ctx context.Context, modelName string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return s.bus.Set(ctx, driftKey(modelName), []byte("true"), ttl)
}

// Tick runs one scheduling decision for modelName at logical time now:
// under ScheduleWeekly it retrains on Monday (tenant-local handling is
// the caller's responsibility — now is passed in rather than read from
// time.Now() so callers can apply their own tenant offset); under
// ScheduleDrift it polls CheckDrift.
func (s *Scheduler) Tick(ctx context.Context, now time.Time, modelName string) error {
	switch s.schedule {
	case ScheduleDrift:
		_, err := s.CheckDrift(ctx, modelName)
		return err
	default:
		if now.UTC().Weekday() == time.Monday {
			return s.TriggerRetrain(ctx, modelName)
		}
		return nil
	}
}
