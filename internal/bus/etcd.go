package bus

import (
	"context"
	"strconv"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"titan/internal/errkind"
)

// EtcdBus is the secondary Bus backend used during Redis failover
// (§4.11). TTL is implemented via etcd leases; pub/sub is emulated with
// watch on a channel key, which keeps at-most-once, per-channel-FIFO
// semantics close enough for the failover window.
type EtcdBus struct {
	client *clientv3.Client

	mu      sync.Mutex
	leases  map[string]clientv3.LeaseID
}

// EtcdConfig configures the secondary etcd connection.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
}

// NewEtcdBus dials etcd and returns a Bus backed by it.
func NewEtcdBus(cfg EtcdConfig) (*EtcdBus, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientUnavailable, "bus.NewEtcdBus", "dial", err)
	}
	return &EtcdBus{client: cli, leases: make(map[string]clientv3.LeaseID)}, nil
}

func (b *EtcdBus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	lease, err := b.client.Grant(ctx, int64(ttl.Seconds())+1)
	if err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Set", key, err)
	}
	if _, err := b.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Set", key, err)
	}
	b.mu.Lock()
	b.leases[key] = lease.ID
	b.mu.Unlock()
	return nil
}

func (b *EtcdBus) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.Get(ctx, key)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientUnavailable, "bus.Get", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (b *EtcdBus) Del(ctx context.Context, key string) error {
	if _, err := b.client.Delete(ctx, key); err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Del", key, err)
	}
	b.mu.Lock()
	delete(b.leases, key)
	b.mu.Unlock()
	return nil
}

func (b *EtcdBus) Incr(ctx context.Context, key string) (int64, error) {
	// etcd has no atomic INCR; emulate with an STM-free optimistic
	// retry loop — acceptable since Incr is only used for low-contention
	// counters during failover windows.
	for attempt := 0; attempt < 5; attempt++ {
		resp, err := b.client.Get(ctx, key)
		if err != nil {
			return 0, errkind.Wrap(errkind.TransientUnavailable, "bus.Incr", key, err)
		}

		var cur int64
		var modRev int64
		if len(resp.Kvs) > 0 {
			cur, _ = strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
			modRev = resp.Kvs[0].ModRevision
		}
		next := cur + 1

		txn := b.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", modRev)).
			Then(clientv3.OpPut(key, strconv.FormatInt(next, 10)))
		txnResp, err := txn.Commit()
		if err != nil {
			return 0, errkind.Wrap(errkind.TransientUnavailable, "bus.Incr", key, err)
		}
		if txnResp.Succeeded {
			return next, nil
		}
	}
	return 0, errkind.New(errkind.TransientUnavailable, "bus.Incr", "exhausted retries on "+key)
}

func (b *EtcdBus) Scan(ctx context.Context, prefix string) ([]string, error) {
	resp, err := b.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientUnavailable, "bus.Scan", prefix, err)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	return keys, nil
}

func (b *EtcdBus) Publish(ctx context.Context, channel string, payload []byte) error {
	// Fire-and-forget: put with a short-lived lease so stale channel
	// values don't linger if nobody is watching.
	lease, err := b.client.Grant(ctx, 30)
	if err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Publish", channel, err)
	}
	if _, err := b.client.Put(ctx, channelKey(channel), string(payload), clientv3.WithLease(lease.ID)); err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Publish", channel, err)
	}
	return nil
}

func (b *EtcdBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	watchCh := b.client.Watch(ctx, channelKey(channel))
	sub := &etcdSubscription{ch: make(chan []byte, subscriptionBacklog), cancel: cancel}

	go func() {
		defer close(sub.ch)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchCh:
				if !ok {
					return
				}
				for _, ev := range resp.Events {
					if ev.Type != clientv3.EventTypePut {
						continue
					}
					select {
					case sub.ch <- ev.Kv.Value:
					default:
						// Backlog full: drop the oldest queued payload.
						select {
						case <-sub.ch:
						default:
						}
						select {
						case sub.ch <- ev.Kv.Value:
						default:
						}
					}
				}
			}
		}
	}()

	return sub, nil
}

func (b *EtcdBus) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := b.client.Get(ctx, "titan:infra:ping-probe")
	if err != nil {
		return errkind.Wrap(errkind.TransientUnavailable, "bus.Ping", "etcd", err)
	}
	return nil
}

func (b *EtcdBus) Close() error {
	return b.client.Close()
}

func channelKey(channel string) string {
	return "titan:infra:chan:" + channel
}

type etcdSubscription struct {
	ch     chan []byte
	once   sync.Once
	cancel context.CancelFunc
}

func (s *etcdSubscription) C() <-chan []byte { return s.ch }

func (s *etcdSubscription) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}
