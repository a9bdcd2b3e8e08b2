package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"titan/internal/bus"
	"titan/internal/errkind"
	"titan/internal/namespace"
)

// ViolationChannel is where the Dependency Resolver publishes overlap
// and namespace-violation reports (§4.4).
const ViolationChannel = "titan:infra:registry:violations"

// metaKey is the Bus key a module's Record lives under.
func metaKey(rec Record) string {
	return fmt.Sprintf("titan:registry:%s:meta", sanitize(rec.Key()))
}

func metaKeyFor(name, version string) string {
	return fmt.Sprintf("titan:registry:%s:meta", sanitize(name+"@"+version))
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// listKey is the Bus key holding the set of known (name@version)
// identities, maintained alongside each per-module meta record since
// Bus.Scan only promises prefix matching, not listing distinct
// identities cheaply across backends.
const listKey = "titan:registry:index"

// Registry is the Module Record catalog (§4.4): modules register once
// at startup, refresh via Heartbeat, and are discoverable by any other
// module through Get/List.
type Registry struct {
	bus bus.Bus
}

// New constructs a Registry backed by b.
func New(b bus.Bus) *Registry {
	return &Registry{bus: b}
}

// Register stores rec idempotently keyed on (name, version): calling
// Register again for the same identity refreshes metadata and TTL
// rather than creating a duplicate (§4.4 invariant: exactly one active
// record per (name, version)).
func (r *Registry) Register(ctx context.Context, rec Record) error {
	if rec.Name == "" || rec.Version == "" {
		return errkind.New(errkind.InvalidSignal, "registry.Register", "name and version are required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.LastHeartbeatAt = time.Now()
	if rec.Status == "" {
		rec.Status = StatusLive
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "registry.Register", "encode failed", err)
	}
	if err := r.bus.Set(ctx, metaKey(rec), data, RecordTTL); err != nil {
		return err
	}
	return r.addToIndex(ctx, rec.Key())
}

// Heartbeat refreshes the TTL and last-heartbeat timestamp for
// (name, version) without altering the rest of the record.
func (r *Registry) Heartbeat(ctx context.Context, name, version string) error {
	rec, err := r.get(ctx, name, version)
	if err != nil {
		return err
	}
	rec.LastHeartbeatAt = time.Now()
	data, err := encodeRecord(rec)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "registry.Heartbeat", "encode failed", err)
	}
	return r.bus.Set(ctx, metaKeyFor(name, version), data, RecordTTL)
}

// SetStatus transitions a record's lifecycle status (§3): live,
// deprecated, canary, retired.
func (r *Registry) SetStatus(ctx context.Context, name, version string, status Status) error {
	rec, err := r.get(ctx, name, version)
	if err != nil {
		return err
	}
	rec.Status = status
	data, err := encodeRecord(rec)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "registry.SetStatus", "encode failed", err)
	}
	return r.bus.Set(ctx, metaKeyFor(name, version), data, RecordTTL)
}

// IncrementRestartCount bumps a record's restart_count, used by the
// Restart Queue to track cumulative restarts for escalation decisions.
func (r *Registry) IncrementRestartCount(ctx context.Context, name, version string) (int, error) {
	rec, err := r.get(ctx, name, version)
	if err != nil {
		return 0, err
	}
	rec.RestartCount++
	data, err := encodeRecord(rec)
	if err != nil {
		return 0, errkind.Wrap(errkind.Fatal, "registry.IncrementRestartCount", "encode failed", err)
	}
	if err := r.bus.Set(ctx, metaKeyFor(name, version), data, RecordTTL); err != nil {
		return 0, err
	}
	return rec.RestartCount, nil
}

// Get fetches the record registered for exactly name at version; it
// does not consult the index or fall back to another version.
func (r *Registry) Get(ctx context.Context, name, version string) (Record, error) {
	return r.get(ctx, name, version)
}

func (r *Registry) get(ctx context.Context, name, version string) (Record, error) {
	data, err := r.bus.Get(ctx, metaKeyFor(name, version))
	if err != nil {
		if err == bus.ErrNotFound {
			return Record{}, errkind.New(errkind.InvalidSignal, "registry.Get",
				fmt.Sprintf("no record for %s@%s", name, version))
		}
		return Record{}, err
	}
	return decodeRecord(data)
}

// List returns every currently registered (non-expired) record.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	ids, err := r.index(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		data, err := r.bus.Get(ctx, fmt.Sprintf("titan:registry:%s:meta", sanitize(id)))
		if err == bus.ErrNotFound {
			continue // TTL expired without index cleanup; tolerate drift
		}
		if err != nil {
			return nil, err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Registry) index(ctx context.Context) ([]string, error) {
	data, err := r.bus.Get(ctx, listKey)
	if err == bus.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), ","), nil
}

func (r *Registry) addToIndex(ctx context.Context, id string) error {
	existing, err := r.index(ctx)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e == id {
			return nil
		}
	}
	existing = append(existing, id)
	return r.bus.Set(ctx, listKey, []byte(strings.Join(existing, ",")), RecordTTL)
}

// Guard compiles rec's declared_keys into a namespace.Guard for write
// validation.
func Guard(rec Record) *namespace.Guard {
	decls := make([]namespace.Declaration, 0, len(rec.DeclaredKeys))
	for _, raw := range rec.DeclaredKeys {
		decls = append(decls, namespace.MustDeclare(raw))
	}
	return namespace.NewGuard(decls...)
}
