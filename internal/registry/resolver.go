package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"titan/internal/bus"
	"titan/internal/errkind"
	"titan/internal/namespace"
)

// Violation is one Dependency Resolver finding (§4.4): either two
// modules declaring overlapping key prefixes, or a module observed
// writing outside its own declaration.
type Violation struct {
	Kind    string `json:"kind"` // "key_overlap" | "channel_overlap" | "out_of_prefix_write"
	ModuleA string `json:"module_a"`
	ModuleB string `json:"module_b,omitempty"`
	Detail  string `json:"detail"`
	// CriticalPath marks whether this violation intersects a tenant's
	// critical path (the trade and capital domains). It is only
	// reported; the Resolver does not halt or change the status of
	// either module.
	CriticalPath bool `json:"critical_path"`
}

// criticalDomains are keyspace domains whose overlap sets a
// Violation's CriticalPath flag; the violation is published like any
// other and the offending module keeps running.
var criticalDomains = map[namespace.Domain]struct{}{
	namespace.DomainTrade:   {},
	namespace.DomainCapital: {},
}

// Resolver scans registered modules for declared-key and
// declared-channel overlap, and validates observed writes against
// declarations (§4.4).
type Resolver struct {
	bus      bus.Bus
	registry *Registry
}

// NewResolver constructs a Resolver.
func NewResolver(b bus.Bus, reg *Registry) *Resolver {
	return &Resolver{bus: b, registry: reg}
}

// Scan audits every registered module's declared_keys and
// declared_channels for overlap and publishes any Violation found on
// ViolationChannel. It returns the violations for callers (e.g. an
// admin API) that want them without a second subscription.
func (r *Resolver) Scan(ctx context.Context) ([]Violation, error) {
	records, err := r.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			a, b := records[i], records[j]
			if v, ok := keyOverlap(a, b); ok {
				violations = append(violations, v)
			}
			if v, ok := channelOverlap(a, b); ok {
				violations = append(violations, v)
			}
		}
	}

	for _, v := range violations {
		if err := r.publish(ctx, v); err != nil {
			return violations, err
		}
	}
	return violations, nil
}

func keyOverlap(a, b Record) (Violation, bool) {
	da := declarationsOf(a)
	db := declarationsOf(b)
	if !namespace.Collision(da, db) {
		return Violation{}, false
	}
	return Violation{
		Kind:         "key_overlap",
		ModuleA:      a.Key(),
		ModuleB:      b.Key(),
		Detail:       fmt.Sprintf("declared_keys overlap between %s and %s", a.Key(), b.Key()),
		CriticalPath: touchesCriticalDomain(a) || touchesCriticalDomain(b),
	}, true
}

func channelOverlap(a, b Record) (Violation, bool) {
	seen := make(map[string]struct{}, len(a.DeclaredChannels))
	for _, ch := range a.DeclaredChannels {
		seen[ch] = struct{}{}
	}
	for _, ch := range b.DeclaredChannels {
		if _, ok := seen[ch]; ok {
			return Violation{
				Kind:    "channel_overlap",
				ModuleA: a.Key(),
				ModuleB: b.Key(),
				Detail:  fmt.Sprintf("both modules declare channel %q", ch),
			}, true
		}
	}
	return Violation{}, false
}

func declarationsOf(rec Record) []namespace.Declaration {
	decls := make([]namespace.Declaration, 0, len(rec.DeclaredKeys))
	for _, raw := range rec.DeclaredKeys {
		decls = append(decls, namespace.MustDeclare(raw))
	}
	return decls
}

func touchesCriticalDomain(rec Record) bool {
	for _, raw := range rec.DeclaredKeys {
		for domain := range criticalDomains {
			if strings.Contains(raw, string(domain)) {
				return true
			}
		}
	}
	return false
}

// ValidateWrite checks key against the record registered for
// (name, version); returns errkind.NamespaceViolation (and publishes a
// Violation) if key falls outside every declared prefix.
func (r *Resolver) ValidateWrite(ctx context.Context, name, version, key string) error {
	rec, err := r.registry.Get(ctx, name, version)
	if err != nil {
		return err
	}
	guard := Guard(rec)
	if err := guard.Validate(key); err != nil {
		v := Violation{
			Kind:         "out_of_prefix_write",
			ModuleA:      rec.Key(),
			Detail:       fmt.Sprintf("write to %q matches no declared prefix", key),
			CriticalPath: touchesCriticalDomain(rec),
		}
		_ = r.publish(ctx, v)
		return err
	}
	return nil
}

func (r *Resolver) publish(ctx context.Context, v Violation) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "registry.Resolver.publish", "encode failed", err)
	}
	return r.bus.Publish(ctx, ViolationChannel, data)
}
