package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"titan/internal/bus"
)

// DefaultCollisionWindow is the §4.7 collision detector's default
// window.
const DefaultCollisionWindow = time.Second

type collisionState struct {
	Buy        *Signal `json:"buy,omitempty"`
	Sell       *Signal `json:"sell,omitempty"`
	WindowEnds int64   `json:"window_ends"`
}

func collisionKey(tenantID, symbol string) string {
	return fmt.Sprintf("titan:%s:signal:collision:%s", tenantID, symbol)
}

// ConflictEvent is published on ConflictsChannel when both the
// buy-side and sell-side survivor are present in the same collision
// window; it carries both full signals so the Conflict Escalation
// Manager can resolve by trust score.
type ConflictEvent struct {
	Symbol string `json:"symbol"`
	Winner Signal `json:"winner"`
	Loser  Signal `json:"loser"`
}

// CollisionDetector is pipeline stage #5 (§4.7): within a fixed
// window that starts at the first observation, keeps the
// highest-confidence signal on each side for a symbol and discards the
// rest, reporting a conflict when both the buy-side and sell-side
// survivor are present in the same window. Observe accumulates
// candidates as they arrive; Flush (called on the owning Module
// Runtime's tick) decides the survivor(s) from whatever has been
// observed so far, without checking whether the window has closed.
type CollisionDetector struct {
	bus    bus.Bus
	window time.Duration
}

// NewCollisionDetector constructs a CollisionDetector with window
// (DefaultCollisionWindow if zero).
func NewCollisionDetector(b bus.Bus, window time.Duration) *CollisionDetector {
	if window <= 0 {
		window = DefaultCollisionWindow
	}
	return &CollisionDetector{bus: b, window: window}
}

// Observe records s as a candidate for its side, keeping only the
// highest-confidence signal per side within the current window.
func (c *CollisionDetector) Observe(ctx context.Context, s Signal) error {
	key := collisionKey(s.TenantID, s.Symbol)
	state, err := c.load(ctx, key)
	if err != nil {
		return err
	}

	now := time.Now()
	if state.WindowEnds == 0 || now.UnixMilli() >= state.WindowEnds {
		state = collisionState{WindowEnds: now.Add(c.window).UnixMilli()}
	}

	switch s.Side {
	case SideBuy:
		if state.Buy == nil || s.Confidence > state.Buy.Confidence {
			state.Buy = &s
		}
	case SideSell:
		if state.Sell == nil || s.Confidence > state.Sell.Confidence {
			state.Sell = &s
		}
	}

	return c.save(ctx, key, state, c.window)
}

// Flush evaluates (tenantID, symbol)'s current window: a lone
// survivor (only one side present) passes straight through. When both
// a buy-side and sell-side survivor are present they inherently
// conflict (opposite intents on the same symbol); Flush does not
// decide between them — by confidence-only logic this stage would
// favor the louder signal rather than the more trustworthy one — it
// publishes both for the Conflict Escalation Manager (stage #7) to
// resolve by trust score, and forwards neither on its own. It is safe
// to call Flush even when no signals were observed (returns nil, nil).
func (c *CollisionDetector) Flush(ctx context.Context, tenantID, symbol string) ([]Outcome, error) {
	key := collisionKey(tenantID, symbol)
	state, err := c.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if state.Buy == nil && state.Sell == nil {
		return nil, nil
	}

	defer c.bus.Del(ctx, key)

	if state.Buy != nil && state.Sell == nil {
		return []Outcome{pass(*state.Buy, StageCollision)}, nil
	}
	if state.Sell != nil && state.Buy == nil {
		return []Outcome{pass(*state.Sell, StageCollision)}, nil
	}

	if err := c.publishConflict(ctx, symbol, *state.Buy, *state.Sell); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *CollisionDetector) publishConflict(ctx context.Context, symbol string, winner, loser Signal) error {
	data, err := json.Marshal(ConflictEvent{Symbol: symbol, Winner: winner, Loser: loser})
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, ConflictsChannel, data)
}

func (c *CollisionDetector) load(ctx context.Context, key string) (collisionState, error) {
	data, err := c.bus.Get(ctx, key)
	if err == bus.ErrNotFound {
		return collisionState{}, nil
	}
	if err != nil {
		return collisionState{}, err
	}
	var state collisionState
	if err := json.Unmarshal(data, &state); err != nil {
		return collisionState{}, nil
	}
	return state, nil
}

func (c *CollisionDetector) save(ctx context.Context, key string, state collisionState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.bus.Set(ctx, key, data, ttl)
}
