package capital

import (
	"fmt"

	"titan/internal/signal"
)

// RestrictedPair is an (asset, jurisdiction) combination the
// Jurisdiction Filter blocks outright (§4.8).
type RestrictedPair struct {
	Asset       string
	Jurisdiction string
}

// KycTier is a user's verified KYC level; higher values unlock more
// asset classes.
type KycTier int

// RequiredTier maps an asset to the minimum KycTier needed to trade it.
// Assets absent from the map require no minimum tier.
type RequiredTier map[string]KycTier

// JurisdictionKycFilter is the §4.8 Router-time filter: it blocks
// (asset, jurisdiction) pairs and (user, restricted_asset) pairs when
// the user's KYC tier is below the required level (§4.8). The server
// pipeline in cmd/server does not construct or call it; Check runs
// only where a caller invokes it directly.
type JurisdictionKycFilter struct {
	restricted   map[RestrictedPair]struct{}
	requiredTier RequiredTier
	userTier     func(tenantID, userID string) KycTier
	jurisdiction func(tenantID string) string
}

// NewJurisdictionKycFilter constructs a filter. userTier and
// jurisdiction are injected lookups (backed by titan:kyc:{user_id}:tier
// and per-tenant client config respectively).
func NewJurisdictionKycFilter(restricted []RestrictedPair, requiredTier RequiredTier,
	userTier func(tenantID, userID string) KycTier, jurisdiction func(tenantID string) string) *JurisdictionKycFilter {
	set := make(map[RestrictedPair]struct{}, len(restricted))
	for _, p := range restricted {
		set[p] = struct{}{}
	}
	return &JurisdictionKycFilter{restricted: set, requiredTier: requiredTier, userTier: userTier, jurisdiction: jurisdiction}
}

// Check evaluates s against the jurisdiction and KYC rules, returning
// a blocked Outcome when either check fails, or a pass Outcome
// otherwise. userID identifies the signal's originating account for
// the KYC lookup.
func (f *JurisdictionKycFilter) Check(s signal.Signal, userID string) signal.Outcome {
	jurisdiction := f.jurisdiction(s.TenantID)
	if _, blocked := f.restricted[RestrictedPair{Asset: s.Symbol, Jurisdiction: jurisdiction}]; blocked {
		return blockOutcome(s, fmt.Sprintf("asset %s restricted in jurisdiction %s", s.Symbol, jurisdiction))
	}

	if required, ok := f.requiredTier[s.Symbol]; ok {
		if f.userTier(s.TenantID, userID) < required {
			return blockOutcome(s, fmt.Sprintf("asset %s requires KYC tier %d", s.Symbol, required))
		}
	}

	return signal.Outcome{Signal: s.WithVerdict("kyc_jurisdiction", signal.VerdictPass, ""), Forward: true, Verdict: signal.VerdictPass}
}

func blockOutcome(s signal.Signal, reason string) signal.Outcome {
	blocked := s.Derive()
	blocked.Quantity = 0
	blocked = blocked.WithVerdict("kyc_jurisdiction", signal.VerdictBlocked, reason)
	return signal.Outcome{Signal: blocked, Forward: false, Verdict: signal.VerdictBlocked, Reason: reason}
}
