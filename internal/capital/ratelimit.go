package capital

import (
	"context"
	"fmt"
	"time"

	"titan/internal/bus"
	"titan/internal/errkind"
)

// DefaultTenantRateLimit and DefaultTenantRateWindow are the §4.8
// Tenant Rate Limiter's defaults: 100 calls per minute per tenant.
const (
	DefaultTenantRateLimit  = 100
	DefaultTenantRateWindow = time.Minute
)

func rateLimitKey(tenantID string) string {
	return fmt.Sprintf("titan:%s:capital:rate_limit", tenantID)
}

func rateGateKey(tenantID string) string {
	return fmt.Sprintf("titan:%s:capital:rate_gated", tenantID)
}

// RateLimiter tracks per-tenant outbound API-call counts on a fixed
// window (starting at the first call) and gates a tenant's outbound traffic for the window's
// duration on overshoot (§4.8).
type RateLimiter struct {
	bus    bus.Bus
	limit  int64
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter; zero values fall back to
// the package defaults.
func NewRateLimiter(b bus.Bus, limit int64, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultTenantRateLimit
	}
	if window <= 0 {
		window = DefaultTenantRateWindow
	}
	return &RateLimiter{bus: b, limit: limit, window: window}
}

// Allow records one call attempt for tenantID. It returns
// errkind.RateLimited if the tenant is currently gated (either this
// call or a prior one overshot the limit within the current window).
func (r *RateLimiter) Allow(ctx context.Context, tenantID string) error {
	gated, err := r.bus.Get(ctx, rateGateKey(tenantID))
	if err != nil && err != bus.ErrNotFound {
		return err
	}
	if err == nil && len(gated) > 0 {
		return errkind.New(errkind.RateLimited, "capital.RateLimiter.Allow",
			fmt.Sprintf("tenant %s is rate-gated", tenantID))
	}

	count, err := r.bus.Incr(ctx, rateLimitKey(tenantID))
	if err != nil {
		return err
	}
	if count == 1 {
		// First call in a fresh window: set the counter's own TTL so
		// it resets after r.window.
		if err := r.refreshWindow(ctx, tenantID); err != nil {
			return err
		}
	}

	if count > r.limit {
		if err := r.bus.Set(ctx, rateGateKey(tenantID), []byte("1"), r.window); err != nil {
			return err
		}
		return errkind.New(errkind.RateLimited, "capital.RateLimiter.Allow",
			fmt.Sprintf("tenant %s exceeded %d calls/%s", tenantID, r.limit, r.window))
	}
	return nil
}

// refreshWindow re-sets the counter key's TTL. The Bus Incr contract
// does not itself accept a TTL, so the counter key is independently
// refreshed to bound its lifetime per §5's TTL-sweeper requirement.
func (r *RateLimiter) refreshWindow(ctx context.Context, tenantID string) error {
	data, err := r.bus.Get(ctx, rateLimitKey(tenantID))
	if err != nil {
		return err
	}
	return r.bus.Set(ctx, rateLimitKey(tenantID), data, r.window)
}
