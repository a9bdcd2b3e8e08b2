package signal

import (
	"context"
	"fmt"

	"titan/internal/bus"
)

// CoreSignalChannel is where raw signals first enter the coordination
// core (§6).
const CoreSignalChannel = "titan:core:signal"

// RawChannel is the per-tenant raw-intake channel (§6).
func RawChannel(tenantID string) string {
	return fmt.Sprintf("titan:%s:signal:raw", tenantID)
}

// StageChannel is the normative per-stage pipeline channel (§6):
// titan:signal:pipeline:{stage}.
func StageChannel(stage string) string {
	return fmt.Sprintf("titan:signal:pipeline:%s", stage)
}

// ConflictsChannel and CommanderOverrideChannel are the normative
// escalation channels (§6).
const (
	ConflictsChannel         = "titan:conflicts"
	CommanderOverrideChannel = "titan:commander_override"
)

// ExecutionChannel is the Router's publish target: the external
// boundary the Execution Controller consumes from (§4.9).
const ExecutionChannel = "titan:core:execution"

// Stage names, used both as the StageChannel argument and as the
// provenance entry's Stage field.
const (
	StageIntegrity  = "integrity"
	StageNoise      = "noise"
	StageAlignment  = "alignment"
	StageTrust      = "trust"
	StageCollision  = "collision"
	StageOverlap    = "overlap"
	StageEscalation = "escalation"
	StageAdapter    = "adapter"
	StageWindow     = "window"
	StageRouter     = "router"
)

// Outcome is one stage's processing result: the (possibly derived)
// signal to forward, or nothing if the stage dropped it.
type Outcome struct {
	Signal  Signal
	Forward bool
	Verdict Verdict
	Reason  string
}

func pass(s Signal, stage string) Outcome {
	return Outcome{Signal: s.WithVerdict(stage, VerdictPass, ""), Forward: true, Verdict: VerdictPass}
}

func drop(s Signal, stage string, verdict Verdict, reason string) Outcome {
	return Outcome{Signal: s.WithVerdict(stage, verdict, reason), Forward: false, Verdict: verdict, Reason: reason}
}

// Forward publishes s to the next stage's StageChannel. It is the glue
// every Module Runtime instance wiring a pipeline stage uses to hand a
// surviving signal to its downstream neighbor (§4.3).
func Forward(ctx context.Context, b bus.Bus, nextStage string, s Signal) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return b.Publish(ctx, StageChannel(nextStage), data)
}
