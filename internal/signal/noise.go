package signal

import (
	"context"
	"fmt"
	"time"

	"titan/internal/bus"
)

// DefaultDebounceWindow is the noise reducer's default debounce
// window; configurable per §6.
const DefaultDebounceWindow = 2 * time.Second

func debounceKey(s Signal) string {
	return fmt.Sprintf("titan:%s:signal:noise:%s:%s:%s", s.TenantID, s.Strategy, s.Symbol, s.Side)
}

// NoiseReducer is pipeline stage #2 (§4.7): debounces identical
// (strategy, symbol, side) within window, recording its own state on
// the Bus so the debounce survives across this worker's ticks (the
// worker itself runs single-threaded, so no additional locking is
// needed — §5).
type NoiseReducer struct {
	bus    bus.Bus
	window time.Duration
}

// NewNoiseReducer constructs a NoiseReducer with the given debounce
// window (DefaultDebounceWindow if zero).
func NewNoiseReducer(b bus.Bus, window time.Duration) *NoiseReducer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &NoiseReducer{bus: b, window: window}
}

// Check drops s as a duplicate if an identical (strategy, symbol, side)
// was seen within the debounce window, otherwise records this
// occurrence and passes s through.
func (n *NoiseReducer) Check(ctx context.Context, s Signal) (Outcome, error) {
	key := debounceKey(s)
	_, err := n.bus.Get(ctx, key)
	if err == nil {
		return drop(s, StageNoise, VerdictDuplicate, "identical (strategy, symbol, side) within debounce window"), nil
	}
	if err != bus.ErrNotFound {
		return Outcome{}, err
	}
	if err := n.bus.Set(ctx, key, []byte(s.ID), n.window); err != nil {
		return Outcome{}, err
	}
	return pass(s, StageNoise), nil
}
