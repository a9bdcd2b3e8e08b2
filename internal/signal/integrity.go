package signal

import "time"

// IntegrityChecker is pipeline stage #1 (§4.7): drops signals missing
// required fields or carrying out-of-range numerics.
type IntegrityChecker struct{}

// Check validates s, returning a dropped Outcome with reason "invalid"
// when s fails its field invariants.
func (IntegrityChecker) Check(s Signal) Outcome {
	if !s.Valid() {
		return drop(s, StageIntegrity, VerdictInvalid, "signal fails field invariants")
	}
	if s.Expired(time.Now()) {
		return drop(s, StageIntegrity, VerdictInvalid, "signal already expired on arrival")
	}
	return pass(s, StageIntegrity)
}
