package namespace

import (
	"context"
	"time"

	"titan/internal/bus"
)

// GuardedBus wraps a Bus and validates every Set key against Guard
// before delegating, so a component can only ever write within its
// declared_keys prefixes (§4.2) regardless of what key a bug or a
// downstream caller tries to write through it. Reads, deletes, and
// pub/sub pass straight through: the declared-prefix invariant is
// about which module OWNS writing a key, not who may observe it.
type GuardedBus struct {
	bus.Bus
	Guard *Guard
}

// NewGuardedBus constructs a GuardedBus delegating to b, rejecting any
// Set outside g's declared prefixes.
func NewGuardedBus(b bus.Bus, g *Guard) *GuardedBus {
	return &GuardedBus{Bus: b, Guard: g}
}

// Set validates key against Guard before delegating to the wrapped Bus.
func (g *GuardedBus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := g.Guard.Validate(key); err != nil {
		return err
	}
	return g.Bus.Set(ctx, key, value, ttl)
}
