package bus

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus implementation. It backs unit tests
// across the coordination core and local/dev runs without a Redis or
// etcd dependency; it is never the right choice for a multi-process
// deployment since state does not cross process boundaries.
type MemoryBus struct {
	mu      sync.RWMutex
	entries map[string]memEntry

	subMu sync.Mutex
	subs  map[string][]*memSubscription
}

type memEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryBus constructs an empty in-process Bus.
func NewMemoryBus() *MemoryBus {
	b := &MemoryBus{
		entries: make(map[string]memEntry),
		subs:    make(map[string][]*memSubscription),
	}
	return b
}

func (b *MemoryBus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	b.mu.Lock()
	b.entries[key] = memEntry{value: cp, expires: time.Now().Add(ttl)}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (b *MemoryBus) Del(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) Incr(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cur int64
	if e, ok := b.entries[key]; ok && !time.Now().After(e.expires) {
		cur, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	next := cur + 1
	exp := time.Now().Add(24 * time.Hour)
	if e, ok := b.entries[key]; ok && e.expires.After(time.Now()) {
		exp = e.expires
	}
	b.entries[key] = memEntry{value: []byte(strconv.FormatInt(next, 10)), expires: exp}
	return next, nil
}

func (b *MemoryBus) Scan(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := time.Now()
	var keys []string
	for k, e := range b.entries {
		if now.After(e.expires) {
			continue
		}
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.subMu.Lock()
	subs := append([]*memSubscription(nil), b.subs[channel]...)
	b.subMu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)

	for _, s := range subs {
		select {
		case s.ch <- cp:
		default:
			// backlog full: drop the oldest queued payload to make room,
			// mirroring the back-pressure policy.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- cp:
			default:
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &memSubscription{
		bus:     b,
		channel: channel,
		ch:      make(chan []byte, subscriptionBacklog),
	}

	b.subMu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.subMu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return sub, nil
}

func (b *MemoryBus) Ping(ctx context.Context) error { return nil }

func (b *MemoryBus) Close() error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.subs = make(map[string][]*memSubscription)
	return nil
}

// Sweep deletes every expired key. A background sweeper calls this
// periodically so transient keys bound resource growth even for
// backends (like this one) without native expiry (§5).
func (b *MemoryBus) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range b.entries {
		if now.After(e.expires) {
			delete(b.entries, k)
			removed++
		}
	}
	return removed
}

type memSubscription struct {
	bus     *MemoryBus
	channel string
	ch      chan []byte

	closeOnce sync.Once
}

func (s *memSubscription) C() <-chan []byte { return s.ch }

func (s *memSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.subMu.Lock()
		defer s.bus.subMu.Unlock()
		subs := s.bus.subs[s.channel]
		for i, cand := range subs {
			if cand == s {
				s.bus.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	})
	return nil
}
