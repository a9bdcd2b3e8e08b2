package signal

import (
	"encoding/json"

	"titan/internal/errkind"
)

// EscalationResult is what ConflictEscalationManager.Resolve returns:
// either one winning Outcome to forward and one dropped, or — on a
// trust tie — both blocked and a CommanderOverrideEvent emitted.
type EscalationResult struct {
	Outcomes []Outcome
	Override *CommanderOverrideEvent
}

// CommanderOverrideEvent is published on CommanderOverrideChannel when
// a conflict cannot be resolved by trust score (§4.7: "if still tied,
// blocks both").
type CommanderOverrideEvent struct {
	Symbol string `json:"symbol"`
	A      Signal `json:"a"`
	B      Signal `json:"b"`
}

// ConflictEscalationManager is pipeline stage #7 (§4.7): consumes
// ConflictEvents from ConflictsChannel and resolves them by trust
// score, blocking both signals and escalating to
// CommanderOverrideChannel on a tie.
type ConflictEscalationManager struct {
	wHistory, wModel float64
}

// NewConflictEscalationManager constructs a manager using the same
// trust weights as the Quality/Trust Analyzer (they score the same
// underlying signals).
func NewConflictEscalationManager(wHistory, wModel float64) *ConflictEscalationManager {
	if wHistory == 0 && wModel == 0 {
		wHistory, wModel = DefaultHistoryWeight, DefaultModelWeight
	}
	return &ConflictEscalationManager{wHistory: wHistory, wModel: wModel}
}

// Resolve decides ev's outcome. The higher-trust signal is forwarded;
// the other is dropped with verdict "blocked". An exact trust tie
// blocks both and produces a CommanderOverrideEvent.
func (m *ConflictEscalationManager) Resolve(ev ConflictEvent) EscalationResult {
	trustA := ev.Winner.Trust(m.wHistory, m.wModel)
	trustB := ev.Loser.Trust(m.wHistory, m.wModel)

	if trustA == trustB {
		return EscalationResult{
			Outcomes: []Outcome{
				drop(ev.Winner, StageEscalation, VerdictBlocked, "trust tie; escalated to commander override"),
				drop(ev.Loser, StageEscalation, VerdictBlocked, "trust tie; escalated to commander override"),
			},
			Override: &CommanderOverrideEvent{Symbol: ev.Symbol, A: ev.Winner, B: ev.Loser},
		}
	}

	winner, loser := ev.Winner, ev.Loser
	if trustB > trustA {
		winner, loser = ev.Loser, ev.Winner
	}

	return EscalationResult{Outcomes: []Outcome{
		pass(winner, StageEscalation),
		drop(loser, StageEscalation, VerdictBlocked, "lost trust-score escalation to "+winner.ID),
	}}
}

// DecodeConflictEvent parses a ConflictEvent delivered on
// ConflictsChannel.
func DecodeConflictEvent(payload []byte) (ConflictEvent, error) {
	var ev ConflictEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ConflictEvent{}, errkind.Wrap(errkind.InvalidSignal, "signal.DecodeConflictEvent", "malformed payload", err)
	}
	return ev, nil
}
