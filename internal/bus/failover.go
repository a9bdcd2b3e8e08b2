package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"titan/internal/errkind"
)

// FailoverBus fronts a primary and secondary Bus. While the primary is
// healthy all calls go straight through it. Once the Region Failover
// Manager (internal/failover) flips Active, calls are redirected to the
// secondary and existing subscriptions are transparently re-established,
// per §4.1 and scenario 5 in §8.
type FailoverBus struct {
	primary   Bus
	secondary Bus

	active int32 // 0 = primary, 1 = secondary

	mu   sync.Mutex
	subs []*failoverSubscription
}

// NewFailoverBus constructs a Bus that can be switched between primary
// and secondary backends without subscribers observing a gap longer
// than the failover window.
func NewFailoverBus(primary, secondary Bus) *FailoverBus {
	return &FailoverBus{primary: primary, secondary: secondary}
}

// SetActive switches the live backend. useSecondary=false selects
// primary, true selects secondary. Existing subscriptions are migrated
// to the new backend.
func (f *FailoverBus) SetActive(ctx context.Context, useSecondary bool) {
	var next int32
	if useSecondary {
		next = 1
	}
	if atomic.SwapInt32(&f.active, next) == next {
		return
	}

	f.mu.Lock()
	subs := append([]*failoverSubscription(nil), f.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		s.migrate(ctx, f.current())
	}
}

// IsSecondaryActive reports whether calls are currently redirected.
func (f *FailoverBus) IsSecondaryActive() bool {
	return atomic.LoadInt32(&f.active) == 1
}

func (f *FailoverBus) current() Bus {
	if atomic.LoadInt32(&f.active) == 1 {
		return f.secondary
	}
	return f.primary
}

func (f *FailoverBus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return f.current().Set(ctx, key, value, ttl)
}

func (f *FailoverBus) Get(ctx context.Context, key string) ([]byte, error) {
	return f.current().Get(ctx, key)
}

func (f *FailoverBus) Del(ctx context.Context, key string) error {
	return f.current().Del(ctx, key)
}

func (f *FailoverBus) Incr(ctx context.Context, key string) (int64, error) {
	return f.current().Incr(ctx, key)
}

func (f *FailoverBus) Scan(ctx context.Context, prefix string) ([]string, error) {
	return f.current().Scan(ctx, prefix)
}

func (f *FailoverBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return f.current().Publish(ctx, channel, payload)
}

func (f *FailoverBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	backend := f.current()
	inner, err := backend.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}

	sub := &failoverSubscription{
		channel: channel,
		out:     make(chan []byte, subscriptionBacklog),
	}
	sub.attach(ctx, inner)

	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()

	return sub, nil
}

func (f *FailoverBus) Ping(ctx context.Context) error {
	if err := f.primary.Ping(ctx); err == nil {
		return nil
	}
	if err := f.secondary.Ping(ctx); err == nil {
		return errkind.New(errkind.TransientUnavailable, "bus.Ping", "primary down, secondary up")
	}
	return errkind.New(errkind.TransientUnavailable, "bus.Ping", "both backends down")
}

func (f *FailoverBus) Close() error {
	_ = f.primary.Close()
	return f.secondary.Close()
}

type failoverSubscription struct {
	channel string

	mu     sync.Mutex
	inner  Subscription
	cancel context.CancelFunc

	out    chan []byte
	closed bool
}

func (s *failoverSubscription) attach(ctx context.Context, inner Subscription) {
	innerCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.inner = inner
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-innerCtx.Done():
				return
			case payload, ok := <-inner.C():
				if !ok {
					return
				}
				select {
				case s.out <- payload:
				default:
					// Backlog full: drop the oldest queued payload.
					select {
					case <-s.out:
					default:
					}
					select {
					case s.out <- payload:
					default:
					}
				}
			}
		}
	}()
}

// migrate re-subscribes this subscription against the new active
// backend, closing the old inner subscription. Messages published in
// the gap between close and re-subscribe may be lost, bounded by the
// configured failover window (§4.1).
func (s *failoverSubscription) migrate(ctx context.Context, backend Bus) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	oldCancel := s.cancel
	s.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}

	inner, err := backend.Subscribe(ctx, s.channel)
	if err != nil {
		return
	}
	s.attach(ctx, inner)
}

func (s *failoverSubscription) C() <-chan []byte { return s.out }

func (s *failoverSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return s.inner.Close()
}
