package signal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"titan/internal/bus"
)

// DefaultMaxPositionSize is the §4.7 overlap resolver's default net
// position cap per (tenant, symbol); configurable per §6.
const DefaultMaxPositionSize = 100.0

// netPositionTTL bounds how long an in-flight net-position estimate is
// retained; it is refreshed on every signal that passes through.
const netPositionTTL = time.Hour

func overlapKey(tenantID, symbol string) string {
	return fmt.Sprintf("titan:%s:signal:overlap:%s", tenantID, symbol)
}

// OverlapResolver is pipeline stage #6 (§4.7): tracks the net intended
// position per (tenant, symbol) across in-flight signals and zeroes
// out (blocks) any signal that would push the net beyond
// MAX_POSITION_SIZE.
type OverlapResolver struct {
	bus            bus.Bus
	maxPositionSize float64
}

// NewOverlapResolver constructs an OverlapResolver; zero maxPositionSize
// falls back to DefaultMaxPositionSize.
func NewOverlapResolver(b bus.Bus, maxPositionSize float64) *OverlapResolver {
	if maxPositionSize <= 0 {
		maxPositionSize = DefaultMaxPositionSize
	}
	return &OverlapResolver{bus: b, maxPositionSize: maxPositionSize}
}

// Check computes the net position s would produce and either forwards
// s while committing the new net, or blocks s (deriving a
// zero-quantity signal) and leaves the net position untouched.
func (o *OverlapResolver) Check(ctx context.Context, s Signal) (Outcome, error) {
	key := overlapKey(s.TenantID, s.Symbol)
	net, err := o.loadNet(ctx, key)
	if err != nil {
		return Outcome{}, err
	}

	delta := s.Quantity
	if s.Side == SideSell {
		delta = -delta
	}
	newNet := net + delta

	if newNet > o.maxPositionSize || newNet < -o.maxPositionSize {
		blocked := s.Derive()
		blocked.Quantity = 0
		blocked = blocked.WithVerdict(StageOverlap, VerdictBlocked,
			fmt.Sprintf("net position %.4f would exceed cap %.4f", newNet, o.maxPositionSize))
		return Outcome{Signal: blocked, Forward: false, Verdict: VerdictBlocked}, nil
	}

	if err := o.storeNet(ctx, key, newNet); err != nil {
		return Outcome{}, err
	}
	return pass(s, StageOverlap), nil
}

func (o *OverlapResolver) loadNet(ctx context.Context, key string) (float64, error) {
	data, err := o.bus.Get(ctx, key)
	if err == bus.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(string(data), 64)
}

func (o *OverlapResolver) storeNet(ctx context.Context, key string, net float64) error {
	return o.bus.Set(ctx, key, []byte(strconv.FormatFloat(net, 'f', -1, 64)), netPositionTTL)
}
