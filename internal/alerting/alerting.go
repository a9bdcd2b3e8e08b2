// Package alerting dispatches operator-facing notifications for the
// events the coordination core itself raises: kill-switch trips
// (§4.8), restart-queue exhaustion (§4.4), and state-machine
// transitions into Hibernating (§4.11). Retargeted from the reference
// hosting platform's per-organization, ent-backed alert-rule engine to
// a small set of fixed, Bus-backed cooldown rules over the error-kind
// taxonomy, since this system has no per-tenant alert-rule CRUD
// surface (Non-goal: "no dashboards/alerting stack beyond what a
// human operator needs to react to a kill-switch trip").
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"titan/internal/alerting/channel"
	"titan/internal/errkind"
)

// Severity mirrors the reference platform's alert severity levels,
// narrowed to the three the coordination core actually raises.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one alertable occurrence: a kill-switch trip, a restart
// exhaustion, or a state-machine transition.
type Event struct {
	Kind      errkind.Kind
	Severity  Severity
	Module    string
	TenantID  string
	Message   string
	Detail    map[string]interface{}
}

// Alert is the rendered, dispatched form of an Event.
type Alert struct {
	ID         uuid.UUID
	Event      Event
	Subject    string
	Body       string
	Recipients []string
}

func cooldownKey(module string, kind errkind.Kind) string {
	return fmt.Sprintf("titan:alerts:cooldown:%s:%s", module, kind)
}

const defaultCooldown = 5 * time.Minute

// bus is the narrow Get/Set surface the cooldown check needs; satisfied
// by bus.Bus without importing it directly, avoiding a dependency on
// the full Bus interface for a package that only ever does TTL checks.
type bus interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Dispatcher routes Events to a delivery Channel, suppressing repeats
// of the same (module, kind) pair within the cooldown window.
type Dispatcher struct {
	bus       bus
	ch        channel.Channel
	recipients []string
	cooldown  time.Duration
}

// NewDispatcher constructs a Dispatcher. ch may be nil, in which case
// Dispatch never sends and always reports sent=false with a nil error —
// matching the reference dispatcher's behavior when no email channel
// was wired for an organization.
func NewDispatcher(b bus, ch channel.Channel, recipients []string) *Dispatcher {
	return &Dispatcher{bus: b, ch: ch, recipients: recipients, cooldown: defaultCooldown}
}

// WithCooldown overrides the default cooldown window.
func (d *Dispatcher) WithCooldown(cooldown time.Duration) *Dispatcher {
	d.cooldown = cooldown
	return d
}

// Dispatch sends ev through the configured channel unless it is
// suppressed by cooldown or channel absence. It returns whether the
// alert was actually sent.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (sent bool, err error) {
	suppressed, err := d.onCooldown(ctx, ev)
	if err != nil {
		return false, err
	}
	if suppressed {
		return false, nil
	}
	if d.ch == nil {
		return false, nil
	}

	alert := render(ev)
	alert.Recipients = d.recipients

	if err := d.ch.Send(ctx, channel.Message{
		Subject:    alert.Subject,
		Body:       alert.Body,
		Recipients: alert.Recipients,
	}); err != nil {
		return false, errkind.Wrap(errkind.TransientUnavailable, "alerting.Dispatch", "channel send failed", err)
	}
	if err := d.arm(ctx, ev); err != nil {
		return true, err
	}
	return true, nil
}

func (d *Dispatcher) onCooldown(ctx context.Context, ev Event) (bool, error) {
	_, err := d.bus.Get(ctx, cooldownKey(ev.Module, ev.Kind))
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (d *Dispatcher) arm(ctx context.Context, ev Event) error {
	return d.bus.Set(ctx, cooldownKey(ev.Module, ev.Kind), []byte("1"), d.cooldown)
}

func render(ev Event) Alert {
	subject := fmt.Sprintf("[%s] %s: %s", ev.Severity, ev.Module, ev.Kind)
	body := ev.Message
	if body == "" {
		body = fmt.Sprintf("module %s raised %s", ev.Module, ev.Kind)
	}
	return Alert{ID: uuid.New(), Event: ev, Subject: subject, Body: body}
}
