package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"titan/internal/bus"
	"titan/internal/errkind"
)

// RestartChannel and AlertChannel are the normative channels named in
// §6.
const (
	RestartChannel = "titan:restart_queue"
	AlertChannel   = "titan:alert"
)

// DefaultMaxRetries and DefaultRestartDelay are the §4.4 defaults.
const (
	DefaultMaxRetries   = 3
	DefaultRestartDelay = 5 * time.Second
)

// RestartRequest is published on RestartChannel; a runners.Runner
// consumer is expected to wait at least Delay before acting, honoring
// RESTART_DELAY.
type RestartRequest struct {
	Name    string        `json:"name"`
	Version string        `json:"version"`
	Cause   string        `json:"cause"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// Alert is published on AlertChannel for any condition severe enough
// to need human attention (§9's user-visible failure behavior).
type Alert struct {
	Module string `json:"module"`
	Reason string `json:"reason"`
}

// RestartQueue enqueues restart requests with a per-module retry
// ceiling (§4.4): after MaxRetries the module is dropped and an alert
// is published instead of a further restart request.
type RestartQueue struct {
	bus        bus.Bus
	registry   *Registry
	maxRetries int
	delay      time.Duration
}

// NewRestartQueue constructs a RestartQueue with the §4.4 defaults.
func NewRestartQueue(b bus.Bus, reg *Registry) *RestartQueue {
	return &RestartQueue{bus: b, registry: reg, maxRetries: DefaultMaxRetries, delay: DefaultRestartDelay}
}

// WithLimits overrides MaxRetries/RestartDelay (e.g. from per-client
// configuration); returns q for chaining.
func (q *RestartQueue) WithLimits(maxRetries int, delay time.Duration) *RestartQueue {
	q.maxRetries = maxRetries
	q.delay = delay
	return q
}

// Enqueue records one restart attempt for (name, version). Past
// MaxRetries, the module is marked retired and an Alert is published
// in place of a restart request.
func (q *RestartQueue) Enqueue(ctx context.Context, name, version string, cause error) error {
	count, err := q.registry.IncrementRestartCount(ctx, name, version)
	if err != nil {
		return err
	}

	if count > q.maxRetries {
		if err := q.registry.SetStatus(ctx, name, version, StatusRetired); err != nil {
			return err
		}
		return q.publishAlert(ctx, name, fmt.Sprintf("restart retries exhausted after %d attempts: %v", count, cause))
	}

	req := RestartRequest{Name: name, Version: version, Cause: cause.Error(), Attempt: count, Delay: q.delay}
	data, err := json.Marshal(req)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "registry.RestartQueue.Enqueue", "encode failed", err)
	}
	return q.bus.Publish(ctx, RestartChannel, data)
}

func (q *RestartQueue) publishAlert(ctx context.Context, module, reason string) error {
	data, err := json.Marshal(Alert{Module: module, Reason: reason})
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "registry.RestartQueue.publishAlert", "encode failed", err)
	}
	return q.bus.Publish(ctx, AlertChannel, data)
}
