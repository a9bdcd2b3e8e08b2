package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"titan/internal/errkind"
)

// RedisBus is the primary Bus backend: Redis KV with native TTL and
// Redis pub/sub for channels.
type RedisBus struct {
	client *redis.Client
}

// RedisConfig configures the primary Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBus dials Redis and returns a Bus backed by it.
func NewRedisBus(cfg RedisConfig) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisBus{client: client}
}

// NewRedisBusFromClient wraps an already-constructed client, useful for
// tests against a miniredis/testcontainers instance.
func NewRedisBusFromClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Set", key, err)
	}
	return nil
}

func (b *RedisBus) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientUnavailable, "bus.Get", key, err)
	}
	return v, nil
}

func (b *RedisBus) Del(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Del", key, err)
	}
	return nil
}

func (b *RedisBus) Incr(ctx context.Context, key string) (int64, error) {
	v, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errkind.Wrap(errkind.TransientUnavailable, "bus.Incr", key, err)
	}
	return v, nil
}

func (b *RedisBus) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errkind.Wrap(errkind.TransientUnavailable, "bus.Scan", prefix, err)
	}
	return keys, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Publish", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errkind.Wrap(errkind.TransientUnavailable, "bus.Subscribe", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan []byte, subscriptionBacklog),
	}
	sub.start(ctx)
	return sub, nil
}

func (b *RedisBus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Ping", "redis", err)
	}
	return nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	ch       chan []byte
	closeMu  sync.Mutex
	closed   bool
	dropHook func()
}

func (s *redisSubscription) start(ctx context.Context) {
	go func() {
		defer close(s.ch)
		msgCh := s.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case s.ch <- []byte(msg.Payload):
				default:
					// Backlog full: drop the oldest queued payload to
					// make room for this one instead of blocking the
					// publisher path (§5 Back-pressure).
					select {
					case <-s.ch:
					default:
					}
					select {
					case s.ch <- []byte(msg.Payload):
					default:
					}
					if s.dropHook != nil {
						s.dropHook()
					}
				}
			}
		}
	}()
}

func (s *redisSubscription) C() <-chan []byte { return s.ch }

func (s *redisSubscription) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pubsub.Close()
}

var _ fmt.Stringer = RedisConfig{}

func (c RedisConfig) String() string { return c.Addr }
