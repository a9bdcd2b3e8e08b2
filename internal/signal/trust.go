package signal

import "fmt"

// Quality/Trust Analyzer weights and threshold, decided in
// SPEC_FULL.md §4 (Open Question Decisions).
const (
	DefaultHistoryWeight           = 0.6
	DefaultModelWeight             = 0.4
	DefaultTrustworthinessThreshold = 0.55
)

// TrustAnalyzer is pipeline stage #4 (§4.7): computes
// trust = w_history*historical_success + w_model*ai_score and drops
// signals below TRUSTWORTHINESS_THRESHOLD.
type TrustAnalyzer struct {
	wHistory  float64
	wModel    float64
	threshold float64
}

// NewTrustAnalyzer constructs a TrustAnalyzer; zero values fall back
// to the decided defaults.
func NewTrustAnalyzer(wHistory, wModel, threshold float64) *TrustAnalyzer {
	if wHistory == 0 && wModel == 0 {
		wHistory, wModel = DefaultHistoryWeight, DefaultModelWeight
	}
	if threshold == 0 {
		threshold = DefaultTrustworthinessThreshold
	}
	return &TrustAnalyzer{wHistory: wHistory, wModel: wModel, threshold: threshold}
}

// Check computes s's trust score and drops it below the threshold.
func (t *TrustAnalyzer) Check(s Signal) Outcome {
	trust := s.Trust(t.wHistory, t.wModel)
	if trust < t.threshold {
		return drop(s, StageTrust, VerdictDropped, fmt.Sprintf("trust %.3f below threshold %.3f", trust, t.threshold))
	}
	return pass(s, StageTrust)
}
