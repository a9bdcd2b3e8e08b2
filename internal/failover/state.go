package failover

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"titan/internal/bus"
	"titan/internal/errkind"
)

// State is one of the four system-wide states named in §4.11.
type State string

const (
	StateNormal      State = "normal"
	StateDegraded    State = "degraded"
	StateHibernating State = "hibernating"
	StateRecovered   State = "recovered"
)

// systemStateKey is process-wide, not tenant-scoped: the state machine
// governs the whole coordination core.
const systemStateKey = "titan:infra:system_state"
const systemStateTTL = 30 * 24 * time.Hour

// DegradedModuleThreshold (K in §4.11) is how many modules' health
// scores must be in violation before Degraded is entered on that
// trigger alone.
const DegradedModuleThreshold = 3

// StateMachine owns the system-wide Normal/Degraded/Hibernating/
// Recovered transitions (§4.11). Only an explicit admin command
// returns the system to Normal from Hibernating.
type StateMachine struct {
	bus bus.Bus
}

// NewStateMachine constructs a StateMachine.
func NewStateMachine(b bus.Bus) *StateMachine {
	return &StateMachine{bus: b}
}

// Current returns the current system state, defaulting to Normal.
func (m *StateMachine) Current(ctx context.Context) (State, error) {
	data, err := m.bus.Get(ctx, systemStateKey)
	if err == bus.ErrNotFound {
		return StateNormal, nil
	}
	if err != nil {
		return "", err
	}
	return State(data), nil
}

// EnterDegraded transitions to Degraded on any of the §4.11 triggers:
// unhealthyModuleCount >= DegradedModuleThreshold, regionFailoverActive,
// or a rate-limit storm. A system already Hibernating is not
// downgraded to Degraded by this call; Hibernating only exits via
// Recover.
func (m *StateMachine) EnterDegraded(ctx context.Context, unhealthyModuleCount int, regionFailoverActive, rateLimitStorm bool) (bool, error) {
	current, err := m.Current(ctx)
	if err != nil {
		return false, err
	}
	if current == StateHibernating {
		return false, nil
	}

	triggered := unhealthyModuleCount >= DegradedModuleThreshold || regionFailoverActive || rateLimitStorm
	if !triggered {
		return false, nil
	}
	return true, m.set(ctx, StateDegraded)
}

// EnterHibernating transitions to Hibernating; any kill-switch trip
// (§4.8) calls this directly rather than going through Degraded first.
func (m *StateMachine) EnterHibernating(ctx context.Context) error {
	return m.set(ctx, StateHibernating)
}

// Recover transitions Hibernating -> Recovered in response to an
// explicit admin command, returning errkind.PolicyViolation if the
// system was not Hibernating.
func (m *StateMachine) Recover(ctx context.Context) error {
	current, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if current != StateHibernating {
		return errkind.New(errkind.PolicyViolation, "failover.StateMachine.Recover",
			fmt.Sprintf("system is %s, not hibernating", current))
	}
	return m.set(ctx, StateRecovered)
}

// ReturnToNormal transitions Recovered -> Normal, completing the
// recovery cycle once the Emergency Recovery Reporter has produced its
// report.
func (m *StateMachine) ReturnToNormal(ctx context.Context) error {
	current, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if current != StateRecovered {
		return errkind.New(errkind.PolicyViolation, "failover.StateMachine.ReturnToNormal",
			fmt.Sprintf("system is %s, not recovered", current))
	}
	return m.set(ctx, StateNormal)
}

func (m *StateMachine) set(ctx context.Context, s State) error {
	return m.bus.Set(ctx, systemStateKey, []byte(s), systemStateTTL)
}

// RecoveryStep is one entry in the Emergency Recovery Reporter's
// chronological account of a hibernation episode (§4.11).
type RecoveryStep struct {
	AtMillis int64  `json:"at_millis"`
	Action   string `json:"action"`
	Detail   string `json:"detail"`
}

// RecoveryReport is the persisted reports/recovery_report.json
// document (§6).
type RecoveryReport struct {
	HibernatedAtMillis int64          `json:"hibernated_at_millis"`
	RecoveredAtMillis  int64          `json:"recovered_at_millis"`
	Steps              []RecoveryStep `json:"recovery_steps"`
	Outcome            string         `json:"outcome"`
}

// RecoveryReporter accumulates RecoveryStep entries for one
// hibernation episode and produces the final report on recovery.
type RecoveryReporter struct {
	hibernatedAt time.Time
	steps        []RecoveryStep
}

// NewRecoveryReporter starts a new episode at hibernatedAt.
func NewRecoveryReporter(hibernatedAt time.Time) *RecoveryReporter {
	return &RecoveryReporter{hibernatedAt: hibernatedAt}
}

// Step appends one recovery step.
func (r *RecoveryReporter) Step(at time.Time, action, detail string) {
	r.steps = append(r.steps, RecoveryStep{AtMillis: at.UnixMilli(), Action: action, Detail: detail})
}

// Finish produces the final report as of recoveredAt. outcome is a
// short operator-facing summary ("recovered", "partial", ...).
func (r *RecoveryReporter) Finish(recoveredAt time.Time, outcome string) RecoveryReport {
	return RecoveryReport{
		HibernatedAtMillis: r.hibernatedAt.UnixMilli(),
		RecoveredAtMillis:  recoveredAt.UnixMilli(),
		Steps:              append([]RecoveryStep(nil), r.steps...),
		Outcome:            outcome,
	}
}

// MarshalJSON renders the report with stable key order (field
// declaration order, per encoding/json) for the persisted report file.
func (rr RecoveryReport) MarshalJSON() ([]byte, error) {
	type alias RecoveryReport
	return json.MarshalIndent(alias(rr), "", "  ")
}
