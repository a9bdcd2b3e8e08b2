package execution

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"titan/internal/bus"
	"titan/internal/errkind"
)

// DefaultMaxRetriesPerOrder and DefaultRetryDelay are the §4.9 Retry
// Throttle defaults.
const (
	DefaultMaxRetriesPerOrder = 3
	DefaultRetryDelay         = 2 * time.Second
)

func retryCountKey(signalID string) string {
	return "titan:infra:execution:retries:" + signalID
}

const retryCountTTL = time.Hour

// RetryThrottle listens for Failure events and retries each signal up
// to MAX_RETRIES_PER_ORDER with RETRY_DELAY backoff, then gives up
// (§4.9). It does not itself re-fetch the original signal; callers
// supply a resolver so the throttle stays decoupled from the pipeline's
// signal store.
type RetryThrottle struct {
	bus        bus.Bus
	maxRetries int
	delay      time.Duration
	resolve    func(ctx context.Context, signalID string) ([]byte, bool, error)
}

// NewRetryThrottle constructs a RetryThrottle. resolve looks up the
// original signal payload for a signalID (e.g. from a short-lived
// Bus-backed in-flight cache); it returns ok=false if the signal is no
// longer available (e.g. its TTL already elapsed).
func NewRetryThrottle(b bus.Bus, resolve func(ctx context.Context, signalID string) ([]byte, bool, error)) *RetryThrottle {
	return &RetryThrottle{bus: b, maxRetries: DefaultMaxRetriesPerOrder, delay: DefaultRetryDelay, resolve: resolve}
}

// WithLimits overrides MaxRetries/RetryDelay; returns t for chaining.
func (t *RetryThrottle) WithLimits(maxRetries int, delay time.Duration) *RetryThrottle {
	t.maxRetries = maxRetries
	t.delay = delay
	return t
}

// Handle processes one Failure event: if the signal has retries
// remaining, it republishes the original payload to ExecutionChannel
// after Delay and returns true (retried); otherwise it returns false
// (exhausted) and the caller should surface the failure permanently
// (e.g. via the Alerting package).
func (t *RetryThrottle) Handle(ctx context.Context, f Failure) (retried bool, err error) {
	count, err := t.bus.Incr(ctx, retryCountKey(f.SignalID))
	if err != nil {
		return false, err
	}
	if err := t.bus.Set(ctx, retryCountKey(f.SignalID), []byte(strconv.FormatInt(count, 10)), retryCountTTL); err != nil {
		return false, err
	}

	if count > int64(t.maxRetries) {
		return false, nil
	}

	payload, ok, err := t.resolve(ctx, f.SignalID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	select {
	case <-time.After(t.delay):
	case <-ctx.Done():
		return false, errkind.Wrap(errkind.Timeout, "execution.RetryThrottle.Handle", "context cancelled during backoff", ctx.Err())
	}

	if err := t.bus.Publish(ctx, ExecutionChannel, payload); err != nil {
		return false, err
	}
	return true, nil
}

// MarshalFailure is a convenience encoder for tests and callers that
// need to round-trip a Failure through the Bus payload format.
func MarshalFailure(f Failure) ([]byte, error) { return marshal(f) }

// UnmarshalFailure decodes a Failure payload.
func UnmarshalFailure(data []byte) (Failure, error) {
	var f Failure
	if err := json.Unmarshal(data, &f); err != nil {
		return Failure{}, errkind.Wrap(errkind.Fatal, "execution.UnmarshalFailure", "decode failed", err)
	}
	return f, nil
}
