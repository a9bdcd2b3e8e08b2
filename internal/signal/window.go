package signal

import "time"

// TradingHours is a per-tenant trading window, evaluated in UTC.
// StartHour/EndHour are [0,24); a window that wraps midnight (e.g.
// Start=22, End=6) is supported.
type TradingHours struct {
	StartHour int
	EndHour   int
}

// Contains reports whether t's UTC hour falls within h.
func (h TradingHours) Contains(t time.Time) bool {
	hour := t.UTC().Hour()
	if h.StartHour == h.EndHour {
		return true // a zero-width window means "always open"
	}
	if h.StartHour < h.EndHour {
		return hour >= h.StartHour && hour < h.EndHour
	}
	return hour >= h.StartHour || hour < h.EndHour // wraps midnight
}

// ContextWindowFilter is pipeline stage #9 (§4.7, optional): drops
// signals outside trading hours for the tenant.
type ContextWindowFilter struct {
	hoursByTenant map[string]TradingHours
}

// NewContextWindowFilter constructs a filter from a per-tenant trading
// hours table; a tenant absent from the table is treated as always
// open (no restriction configured).
func NewContextWindowFilter(hoursByTenant map[string]TradingHours) *ContextWindowFilter {
	return &ContextWindowFilter{hoursByTenant: hoursByTenant}
}

// Check drops s if now falls outside s.TenantID's configured trading
// hours.
func (f *ContextWindowFilter) Check(s Signal, now time.Time) Outcome {
	hours, ok := f.hoursByTenant[s.TenantID]
	if !ok || hours.Contains(now) {
		return pass(s, StageWindow)
	}
	return drop(s, StageWindow, VerdictDropped, "outside configured trading hours")
}
