// Package bus implements the uniform key/value + pub/sub + TTL facade
// (§4.1) that every worker in the coordination core talks to. All state
// in the system, transient or durable, moves through a Bus; no module
// opens its own Redis or etcd connection.
package bus

import (
	"context"
	"time"

	"titan/internal/errkind"
)

// Bus is the contract every backend (Redis, etcd, the failover wrapper)
// implements.
type Bus interface {
	// Set stores value under key with the given ttl. A nonpositive ttl
	// fails with errkind.InvalidTTL — transient data may never be
	// written without an expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Incr atomically increments the integer stored at key (starting
	// from 0) and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Scan returns every key with the given prefix. Intended for
	// startup recovery and admin tooling, not hot-path use.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Publish is fire-and-forget, at-most-once delivery on channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a cancellable stream of payloads published on
	// channel. Per-channel ordering is preserved; there is no
	// cross-channel ordering guarantee.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Ping reports backend reachability.
	Ping(ctx context.Context) error

	// Close releases all resources held by the Bus.
	Close() error
}

// Subscription is a cancellable stream of channel payloads.
type Subscription interface {
	// C yields payloads in publish order. Closed when the
	// subscription is cancelled or the backend connection is lost.
	C() <-chan []byte

	// Close cancels the subscription, releasing the underlying
	// connection atomically.
	Close() error
}

// ErrNotFound is returned by Get when key does not exist.
var ErrNotFound = errkind.New(errkind.TransientUnavailable, "bus.Get", "key not found")

// subscriptionBacklog bounds each Subscribe stream; on overflow the
// oldest queued payload is dropped to make room for the new one (§5
// Back-pressure). The backends do not count these drops themselves.
const subscriptionBacklog = 256

// ValidateTTL returns errkind.InvalidTTL if ttl is not strictly
// positive, per the Bus contract in §4.1.
func ValidateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return errkind.New(errkind.InvalidTTL, "bus.Set", "ttl must be positive")
	}
	return nil
}
