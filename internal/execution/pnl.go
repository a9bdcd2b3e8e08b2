package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"titan/internal/bus"
	"titan/internal/capital"
	"titan/internal/errkind"
)

// sessionTTL bounds a session's accumulated PnL key lifetime; a
// session that never closes (e.g. tracker crash) self-expires rather
// than leaking forever, per §5's TTL-sweeper requirement.
const sessionTTL = 72 * time.Hour

func sessionKey(tenantID, symbol, sessionDate string) string {
	return fmt.Sprintf("titan:%s:performance:session:%s:%s", tenantID, symbol, sessionDate)
}

// SessionPnL is one (tenant, symbol, session_date) accumulator (§3).
type SessionPnL struct {
	TenantID    string  `json:"tenant_id"`
	Symbol      string  `json:"symbol"`
	SessionDate string  `json:"session_date"`
	Realized    float64 `json:"realized"`
}

// Tracker accumulates per-session PnL by (tenant, symbol, session_date)
// (§4.9).
type Tracker struct {
	bus bus.Bus
}

// NewTracker constructs a Tracker.
func NewTracker(b bus.Bus) *Tracker {
	return &Tracker{bus: b}
}

// SessionDate returns the tenant-local session date (YYYY-MM-DD, UTC)
// for t. The spec leaves tenant-local timezone handling to
// configuration; UTC is the baseline used absent a per-tenant offset.
func SessionDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Record adds realizedPnL to the running total for (tenantID, symbol,
// sessionDate).
func (tr *Tracker) Record(ctx context.Context, tenantID, symbol, sessionDate string, realizedPnL float64) (SessionPnL, error) {
	key := sessionKey(tenantID, symbol, sessionDate)
	current, err := tr.load(ctx, key, tenantID, symbol, sessionDate)
	if err != nil {
		return SessionPnL{}, err
	}
	current.Realized += realizedPnL

	data, err := json.Marshal(current)
	if err != nil {
		return SessionPnL{}, errkind.Wrap(errkind.Fatal, "execution.Tracker.Record", "encode failed", err)
	}
	if err := tr.bus.Set(ctx, key, data, sessionTTL); err != nil {
		return SessionPnL{}, err
	}
	return current, nil
}

// Get returns the current accumulated SessionPnL for (tenantID,
// symbol, sessionDate).
func (tr *Tracker) Get(ctx context.Context, tenantID, symbol, sessionDate string) (SessionPnL, error) {
	return tr.load(ctx, sessionKey(tenantID, symbol, sessionDate), tenantID, symbol, sessionDate)
}

func (tr *Tracker) load(ctx context.Context, key, tenantID, symbol, sessionDate string) (SessionPnL, error) {
	data, err := tr.bus.Get(ctx, key)
	if err == bus.ErrNotFound {
		return SessionPnL{TenantID: tenantID, Symbol: symbol, SessionDate: sessionDate}, nil
	}
	if err != nil {
		return SessionPnL{}, err
	}
	var s SessionPnL
	if err := json.Unmarshal(data, &s); err != nil {
		return SessionPnL{}, errkind.Wrap(errkind.Fatal, "execution.Tracker.load", "decode failed", err)
	}
	return s, nil
}

// Profit bucket split, grounded on original_source/net_realized_profit_router.py's
// RESERVE_BUFFER_PCT/COMMANDER_POOL_PCT defaults (overnight_base takes
// the remainder) rather than invented — see SPEC_FULL.md §4.
const (
	ReserveBufferShare = 0.1
	CommanderPoolShare = 0.2
	OvernightBaseShare = 0.7
)

// ProfitChannel is the base for the normative titan:profit:{bucket}
// channels (§6).
func ProfitChannel(bucket string) string { return "titan:profit:" + bucket }

// ProfitAllocation is published per bucket when the Profit Router
// splits a session's realized PnL (§4.9).
type ProfitAllocation struct {
	TenantID string  `json:"tenant_id"`
	Bucket   string  `json:"bucket"`
	Amount   float64 `json:"amount"`
}

// ProfitRouter splits a tenant's closed-session realized PnL into the
// three fixed-percentage buckets and credits the Capital Book's
// profit_pool (§4.9, §3).
type ProfitRouter struct {
	bus   bus.Bus
	store *capital.Store
}

// NewProfitRouter constructs a ProfitRouter writing bucket credits
// through store.
func NewProfitRouter(b bus.Bus, store *capital.Store) *ProfitRouter {
	return &ProfitRouter{bus: b, store: store}
}

// Route splits realizedPnL into the three buckets, publishes one
// ProfitAllocation per bucket, and adds the whole amount to the
// tenant's Capital Book profit_pool. Only positive PnL is split; a
// session that closed at a loss produces no allocations (there is
// nothing to route) but still updates profit_pool (which may go
// negative, reflecting the loss).
func (r *ProfitRouter) Route(ctx context.Context, tenantID string, realizedPnL float64) error {
	_, err := r.store.Mutate(ctx, tenantID, "profit_router.Route", func(b *capital.Book) {
		b.ProfitPool += realizedPnL
	})
	if err != nil {
		return err
	}

	if realizedPnL <= 0 {
		return nil
	}

	buckets := map[string]float64{
		"reserve_buffer": realizedPnL * ReserveBufferShare,
		"commander_pool": realizedPnL * CommanderPoolShare,
		"overnight_base": realizedPnL * OvernightBaseShare,
	}
	for bucket, amount := range buckets {
		data, err := marshal(ProfitAllocation{TenantID: tenantID, Bucket: bucket, Amount: amount})
		if err != nil {
			return err
		}
		if err := r.bus.Publish(ctx, ProfitChannel(bucket), data); err != nil {
			return err
		}
	}
	return nil
}
