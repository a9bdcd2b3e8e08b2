// Package mode implements Mode Control (§4.6): the Morphic Governor
// (policy caps + mode change authorization), the Persona Shifter
// (equity/PnL-driven mode change requests), and the Morphic Adapter
// (the pipeline stage that scales signal fields by the active mode).
package mode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"titan/internal/bus"
	"titan/internal/envconfig"
	"titan/internal/errkind"
)

// Cap is the per-mode policy envelope the Governor enforces (§4.6).
type Cap struct {
	MaxLeverage          float64 `json:"max_leverage"`
	MinConfidence        float64 `json:"min_confidence"`
	ConfidenceMultiplier float64 `json:"confidence_multiplier"`
	TTLMultiplier        float64 `json:"ttl_multiplier"`
}

// DefaultCaps are the named examples from §4.6, extended with
// confidence and TTL multipliers for every named persona: unscaled
// (1.0) for default, confidence boosts for the offensive personas, and
// progressively more conservative caps for the defensive personas.
func DefaultCaps() map[envconfig.MorphicMode]Cap {
	return map[envconfig.MorphicMode]Cap{
		envconfig.ModeDefault:               {MaxLeverage: 3, MinConfidence: 0.5, ConfidenceMultiplier: 1.0, TTLMultiplier: 1.0},
		envconfig.ModeAlphaPush:             {MaxLeverage: 5, MinConfidence: 0.7, ConfidenceMultiplier: 1.1, TTLMultiplier: 1.0},
		envconfig.ModeAggressiveSniper:      {MaxLeverage: 6, MinConfidence: 0.75, ConfidenceMultiplier: 1.15, TTLMultiplier: 0.5},
		envconfig.ModeConservative:          {MaxLeverage: 2, MinConfidence: 0.6, ConfidenceMultiplier: 0.9, TTLMultiplier: 1.5},
		envconfig.ModeConservativeBuffer:    {MaxLeverage: 1.5, MinConfidence: 0.65, ConfidenceMultiplier: 0.85, TTLMultiplier: 2.0},
		envconfig.ModeCapitalPreservation:   {MaxLeverage: 1, MinConfidence: 0.8, ConfidenceMultiplier: 0.7, TTLMultiplier: 2.0},
		envconfig.ModeHighVolatilityDefense: {MaxLeverage: 1, MinConfidence: 0.75, ConfidenceMultiplier: 0.75, TTLMultiplier: 3.0},
	}
}

// ChannelFor returns the normative per-tenant mode broadcast channel
// (§6: titan:mode:{tenant}).
func ChannelFor(tenantID string) string {
	return fmt.Sprintf("titan:mode:%s", tenantID)
}

func stateKey(tenantID string) string {
	return fmt.Sprintf("titan:mode:%s:current", tenantID)
}

// ChangeRequest is posted to the control channel to ask the Governor
// to switch a tenant's active mode.
type ChangeRequest struct {
	TenantID       string              `json:"tenant_id"`
	Mode           envconfig.MorphicMode `json:"mode"`
	RequesterScope string              `json:"requester_scope"`
}

// modeTTL bounds how long a tenant's active-mode record is retained
// without a refresh; mode changes are infrequent but the Bus requires
// every write to carry a TTL (§4.1).
const modeTTL = 24 * time.Hour

// Governor enforces per-mode policy caps and authorizes mode change
// requests (§4.6).
type Governor struct {
	bus           bus.Bus
	caps          map[envconfig.MorphicMode]Cap
	allowedScopes map[string]struct{}
}

// NewGovernor constructs a Governor with caps (DefaultCaps() if nil)
// and the set of requester scopes permitted to change mode.
func NewGovernor(b bus.Bus, caps map[envconfig.MorphicMode]Cap, allowedScopes ...string) *Governor {
	if caps == nil {
		caps = DefaultCaps()
	}
	scopes := make(map[string]struct{}, len(allowedScopes))
	for _, s := range allowedScopes {
		scopes[s] = struct{}{}
	}
	return &Governor{bus: b, caps: caps, allowedScopes: scopes}
}

// CapsFor returns the policy cap for mode and whether it is known.
func (g *Governor) CapsFor(m envconfig.MorphicMode) (Cap, bool) {
	c, ok := g.caps[m]
	return c, ok
}

// CurrentMode satisfies runtime.ModeReader: it returns the tenant's
// currently active mode, defaulting to "default" if none has been set.
func (g *Governor) CurrentMode(ctx context.Context, tenantID string) (string, error) {
	data, err := g.bus.Get(ctx, stateKey(tenantID))
	if err == bus.ErrNotFound {
		return string(envconfig.ModeDefault), nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RequestChange validates req against the requester's declared scope
// and the known cap table, then applies and broadcasts the new mode,
// or rejects with errkind.PolicyViolation (§4.6).
func (g *Governor) RequestChange(ctx context.Context, req ChangeRequest) error {
	if _, ok := g.allowedScopes[req.RequesterScope]; !ok {
		return errkind.New(errkind.PolicyViolation, "mode.Governor.RequestChange",
			fmt.Sprintf("scope %q is not authorized to change mode", req.RequesterScope))
	}
	if _, ok := g.caps[req.Mode]; !ok {
		return errkind.New(errkind.PolicyViolation, "mode.Governor.RequestChange",
			fmt.Sprintf("mode %q has no registered policy cap", req.Mode))
	}

	if err := g.bus.Set(ctx, stateKey(req.TenantID), []byte(req.Mode), modeTTL); err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "mode.Governor.RequestChange", "encode failed", err)
	}
	return g.bus.Publish(ctx, ChannelFor(req.TenantID), payload)
}
