// Package signal implements the Signal Pipeline (§4.7): ten strictly
// ordered stages from integrity checking through routing to execution,
// each idempotent on signal.id and appending its verdict to the
// signal's provenance.
package signal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"titan/internal/errkind"
)

// Side is the signal's directional intent.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Verdict is one stage's outcome for a signal (§3: provenance).
type Verdict string

const (
	VerdictPass      Verdict = "pass"
	VerdictInvalid   Verdict = "invalid"
	VerdictDuplicate Verdict = "duplicate"
	VerdictAligned   Verdict = "aligned"
	VerdictDropped   Verdict = "dropped"
	VerdictBlocked   Verdict = "blocked"
	VerdictConflict  Verdict = "conflict"
)

// ProvenanceEntry records one transformer's verdict on a signal, in
// the order stages ran (§3).
type ProvenanceEntry struct {
	Stage   string  `json:"stage"`
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
}

// Flags is the bag of booleans named in §3.
type Flags struct {
	DirectOverride bool `json:"direct_override,omitempty"`
	Chaos          bool `json:"chaos,omitempty"`
	Reinjected     bool `json:"reinjected,omitempty"`
}

// Signal is the immutable-once-emitted unit the pipeline transforms
// (§3). A stage that needs to change a value produces a new Signal
// referencing ParentID rather than mutating the original; Provenance
// is the one field every stage appends to in place, since appending
// (never rewriting earlier entries) preserves the audit trail without
// violating the "never mutate earlier fields" invariant.
type Signal struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Timestamp  int64     `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      *float64  `json:"price,omitempty"`
	Leverage   *float64  `json:"leverage,omitempty"`
	Confidence float64   `json:"confidence"`
	Strategy   string    `json:"strategy"`
	TTLMillis  int64     `json:"ttl_ms"`
	TenantID   string    `json:"tenant_id"`
	ClientID   string    `json:"client_id"`
	MorphicMode string   `json:"morphic_mode"`
	Flags      Flags     `json:"flags"`
	Provenance []ProvenanceEntry `json:"provenance"`

	// HistoricalSuccess and AIScore feed the Quality/Trust Analyzer's
	// trust computation; they are populated by the emitter or an
	// upstream enrichment stage, not by the pipeline itself.
	HistoricalSuccess float64 `json:"historical_success"`
	AIScore           float64 `json:"ai_score"`
}

// New constructs a root Signal with a generated ID and the current
// timestamp.
func New(symbol string, side Side, quantity, confidence float64, strategy, tenantID string, ttl time.Duration) Signal {
	return Signal{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		Confidence: confidence,
		Strategy:   strategy,
		TTLMillis:  ttl.Milliseconds(),
		TenantID:   tenantID,
	}
}

// Valid reports whether s satisfies the §3 field invariants.
func (s Signal) Valid() bool {
	if s.Confidence < 0 || s.Confidence > 1 {
		return false
	}
	if s.Quantity <= 0 {
		return false
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return false
	}
	if s.ID == "" || s.Symbol == "" || s.TTLMillis <= 0 {
		return false
	}
	return true
}

// Expired reports whether s's TTL has elapsed relative to now.
func (s Signal) Expired(now time.Time) bool {
	deadline := time.UnixMilli(s.Timestamp).Add(time.Duration(s.TTLMillis) * time.Millisecond)
	return now.After(deadline)
}

// WithVerdict returns a copy of s with one more provenance entry
// appended; earlier entries and every other field are untouched, per
// the "transformers never mutate earlier fields" invariant.
func (s Signal) WithVerdict(stage string, verdict Verdict, reason string) Signal {
	out := s
	out.Provenance = append(append([]ProvenanceEntry(nil), s.Provenance...), ProvenanceEntry{
		Stage: stage, Verdict: verdict, Reason: reason,
	})
	return out
}

// Derive produces a new child Signal referencing s.ID as ParentID,
// used when a stage must change a value (e.g. the Alignment
// Front-Loader's merged signal, or the Morphic Adapter's scaled
// fields) rather than mutate s in place.
func (s Signal) Derive() Signal {
	child := s
	child.ID = uuid.NewString()
	child.ParentID = s.ID
	child.Provenance = append([]ProvenanceEntry(nil), s.Provenance...)
	return child
}

// Trust computes the Quality/Trust Analyzer's weighted score (§4.7).
func (s Signal) Trust(wHistory, wModel float64) float64 {
	return wHistory*s.HistoricalSuccess + wModel*s.AIScore
}

// HasPassed reports whether stage already appears in s's provenance,
// used by stages that must not reprocess a signal they already ran on
// (e.g. a reinjected or replayed message).
func (s Signal) HasPassed(stage string) bool {
	for _, e := range s.Provenance {
		if e.Stage == stage {
			return true
		}
	}
	return false
}

// Encode marshals s for transport over the Bus.
func (s Signal) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "signal.Signal.Encode", "encode failed", err)
	}
	return data, nil
}

// Decode parses a Signal delivered on a pipeline channel.
func Decode(payload []byte) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(payload, &s); err != nil {
		return Signal{}, errkind.Wrap(errkind.InvalidSignal, "signal.Decode", "malformed payload", err)
	}
	return s, nil
}
