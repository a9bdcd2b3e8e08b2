package capital

import (
	"context"
	"encoding/json"

	"titan/internal/bus"
	"titan/internal/envconfig"
	"titan/internal/mode"
)

// DefaultCrashDrawdownThreshold and DefaultCrashVolatilityThreshold
// are the Market Crash Trigger's defaults (§4.8).
const (
	DefaultCrashDrawdownThreshold  = -0.40
	DefaultCrashVolatilityThreshold = 0.80
)

// DefaultPanicVolatilityThreshold and DefaultPanicDrawdownThreshold
// are the Panic Session Hibernator's defaults (§8 scenario 6:
// volatility=0.12, drawdown=-0.6 trips it, so the thresholds sit
// below those values).
const (
	DefaultPanicVolatilityThreshold = 0.10
	DefaultPanicDrawdownThreshold   = -0.50
)

// MacroNewsBlocker is a kill-switch (§4.8) that, on a news event
// affecting a symbol, publishes a system-wide hibernation directive
// whose reason carries the news headline; the directive does not name
// the symbol.
type MacroNewsBlocker struct {
	bus bus.Bus
}

// NewMacroNewsBlocker constructs a MacroNewsBlocker.
func NewMacroNewsBlocker(b bus.Bus) *MacroNewsBlocker {
	return &MacroNewsBlocker{bus: b}
}

// Trip publishes a hibernation directive in response to a flagged news
// event on symbol.
func (m *MacroNewsBlocker) Trip(ctx context.Context, symbol, headline string) error {
	data, err := json.Marshal(HibernateDirective{Reason: "macro_news: " + headline})
	if err != nil {
		return err
	}
	return m.bus.Publish(ctx, HibernateChannel, data)
}

// MarketCrashTrigger is a kill-switch (§4.8) that trips a system-wide
// hibernation when drawdown and volatility jointly breach their
// thresholds.
type MarketCrashTrigger struct {
	bus                 bus.Bus
	drawdownThreshold   float64
	volatilityThreshold float64
}

// NewMarketCrashTrigger constructs a MarketCrashTrigger; zero values
// fall back to the package defaults.
func NewMarketCrashTrigger(b bus.Bus, drawdownThreshold, volatilityThreshold float64) *MarketCrashTrigger {
	if drawdownThreshold == 0 {
		drawdownThreshold = DefaultCrashDrawdownThreshold
	}
	if volatilityThreshold == 0 {
		volatilityThreshold = DefaultCrashVolatilityThreshold
	}
	return &MarketCrashTrigger{bus: b, drawdownThreshold: drawdownThreshold, volatilityThreshold: volatilityThreshold}
}

// Evaluate trips a system-wide hibernation if both drawdown <=
// drawdownThreshold and volatility >= volatilityThreshold.
func (m *MarketCrashTrigger) Evaluate(ctx context.Context, drawdown, volatility float64) (bool, error) {
	if drawdown > m.drawdownThreshold || volatility < m.volatilityThreshold {
		return false, nil
	}
	data, err := json.Marshal(HibernateDirective{Reason: "market_crash_trigger", Drawdown: drawdown, Volatility: volatility})
	if err != nil {
		return false, err
	}
	if err := m.bus.Publish(ctx, HibernateChannel, data); err != nil {
		return false, err
	}
	return true, nil
}

// PanicSessionHibernator is a kill-switch (§4.8) that, on a sample
// where volatility and drawdown both breach their thresholds, requests
// a downgrade of the tenant to capital_preservation mode and publishes
// a hibernation directive in the same evaluation (§8 scenario 6).
type PanicSessionHibernator struct {
	bus                 bus.Bus
	governor            *mode.Governor
	volatilityThreshold float64
	drawdownThreshold   float64
}

// NewPanicSessionHibernator constructs a PanicSessionHibernator; zero
// values fall back to the package defaults.
func NewPanicSessionHibernator(b bus.Bus, governor *mode.Governor, volatilityThreshold, drawdownThreshold float64) *PanicSessionHibernator {
	if volatilityThreshold == 0 {
		volatilityThreshold = DefaultPanicVolatilityThreshold
	}
	if drawdownThreshold == 0 {
		drawdownThreshold = DefaultPanicDrawdownThreshold
	}
	return &PanicSessionHibernator{bus: b, governor: governor, volatilityThreshold: volatilityThreshold, drawdownThreshold: drawdownThreshold}
}

// Evaluate trips a system-wide hibernation when volatility >=
// volatilityThreshold and drawdown <= drawdownThreshold.
func (p *PanicSessionHibernator) Evaluate(ctx context.Context, tenantID string, volatility, drawdown float64) (bool, error) {
	if volatility < p.volatilityThreshold || drawdown > p.drawdownThreshold {
		return false, nil
	}

	if p.governor != nil {
		_ = p.governor.RequestChange(ctx, mode.ChangeRequest{
			TenantID: tenantID, Mode: envconfig.ModeCapitalPreservation, RequesterScope: "panic_session_hibernator",
		})
	}

	data, err := json.Marshal(HibernateDirective{Reason: "panic_session_hibernator", TenantID: tenantID, Volatility: volatility, Drawdown: drawdown})
	if err != nil {
		return false, err
	}
	if err := p.bus.Publish(ctx, HibernateChannel, data); err != nil {
		return false, err
	}
	return true, nil
}
