package mode

import (
	"context"

	"titan/internal/envconfig"
)

// PersonaScope is the declared requester scope PersonaShifter uses
// when posting its own mode change requests — distinct from an
// operator's manual scope so automated shifts are auditable as such.
const PersonaScope = "persona_shifter"

// CrossoverThresholds configures when the Persona Shifter escalates
// to a more defensive mode (§4.6: "observes equity and PnL
// crossovers").
type CrossoverThresholds struct {
	// DrawdownRatio triggers a shift to ConservativeBuffer when
	// (initialEquity-equity)/initialEquity exceeds this.
	DrawdownRatio float64
	// SevereDrawdownRatio triggers a shift to CapitalPreservation.
	SevereDrawdownRatio float64
	// ProfitRatio triggers a shift to AlphaPush when
	// (equity-initialEquity)/initialEquity exceeds this.
	ProfitRatio float64
}

// DefaultThresholds are conservative defaults; tenants may override
// via per-client configuration (§4.5).
func DefaultThresholds() CrossoverThresholds {
	return CrossoverThresholds{DrawdownRatio: 0.1, SevereDrawdownRatio: 0.2, ProfitRatio: 0.15}
}

// PersonaShifter watches equity/PnL and posts ChangeRequests to the
// Governor when a crossover threshold is breached.
type PersonaShifter struct {
	governor   *Governor
	thresholds CrossoverThresholds
}

// NewPersonaShifter constructs a PersonaShifter posting requests
// through governor.
func NewPersonaShifter(governor *Governor, thresholds CrossoverThresholds) *PersonaShifter {
	return &PersonaShifter{governor: governor, thresholds: thresholds}
}

// Observe evaluates one equity sample for tenantID and posts a mode
// change request if a crossover threshold is breached. It is a no-op
// (returns nil, "") when no crossover applies.
func (p *PersonaShifter) Observe(ctx context.Context, tenantID string, equity, initialEquity float64) (envconfig.MorphicMode, error) {
	if initialEquity <= 0 {
		return "", nil
	}
	ratio := (initialEquity - equity) / initialEquity

	var target envconfig.MorphicMode
	switch {
	case ratio >= p.thresholds.SevereDrawdownRatio:
		target = envconfig.ModeCapitalPreservation
	case ratio >= p.thresholds.DrawdownRatio:
		target = envconfig.ModeConservativeBuffer
	case -ratio >= p.thresholds.ProfitRatio:
		target = envconfig.ModeAlphaPush
	default:
		return "", nil
	}

	req := ChangeRequest{TenantID: tenantID, Mode: target, RequesterScope: PersonaScope}
	if err := p.governor.RequestChange(ctx, req); err != nil {
		return "", err
	}
	return target, nil
}
