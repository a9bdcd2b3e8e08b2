package config

import (
	"context"
	"fmt"
	"time"

	"titan/internal/bus"
	"titan/internal/errkind"
)

// DriftCheckInterval is the hourly cadence named in §4.5.
const DriftCheckInterval = time.Hour

// ViolationChannel is where a drift mismatch is reported.
const ViolationChannel = "titan:infra:config:drift"

// Policy controls what a Guard does when it detects drift.
type Policy string

const (
	// PolicyRefuseTick blocks the next tick on mismatch (fails closed).
	PolicyRefuseTick Policy = "refuse_tick"
	// PolicyReadOnly continues operating but only serves reads.
	PolicyReadOnly Policy = "read_only"
)

// Guard compares the in-process configuration document's digest
// against the canonical digest stored under HashKey (§4.5).
type Guard struct {
	bus    bus.Bus
	policy Policy
}

// NewGuard constructs a Guard enforcing policy on mismatch.
func NewGuard(b bus.Bus, policy Policy) *Guard {
	if policy == "" {
		policy = PolicyRefuseTick
	}
	return &Guard{bus: b, policy: policy}
}

// PublishCanonical hashes doc and stores the digest under HashKey,
// establishing (or updating, on an intentional config change) the
// canonical digest every Guard compares against.
func PublishCanonical(ctx context.Context, b bus.Bus, doc Document) error {
	digest, err := Digest(doc)
	if err != nil {
		return err
	}
	return b.Set(ctx, HashKey, []byte(digest), recordTTL)
}

// Check compares doc's digest against the stored canonical digest. A
// mismatch publishes a Violation and, per g's policy, returns
// errkind.ConfigDrift when the policy is PolicyRefuseTick (the caller
// is expected to treat that as grounds to skip the tick); under
// PolicyReadOnly it returns nil so the caller may continue serving
// reads, having already been notified via the published violation.
func (g *Guard) Check(ctx context.Context, doc Document) error {
	want, err := Digest(doc)
	if err != nil {
		return err
	}
	got, err := g.bus.Get(ctx, HashKey)
	if err == bus.ErrNotFound {
		// No canonical digest published yet; nothing to compare against.
		return nil
	}
	if err != nil {
		return err
	}
	if string(got) == want {
		return nil
	}

	if pubErr := g.reportDrift(ctx, want, string(got)); pubErr != nil {
		return pubErr
	}

	if g.policy == PolicyRefuseTick {
		return errkind.New(errkind.ConfigDrift, "config.Guard.Check",
			fmt.Sprintf("in-process digest %s does not match canonical %s", want, got))
	}
	return nil
}

func (g *Guard) reportDrift(ctx context.Context, localDigest, canonicalDigest string) error {
	payload := fmt.Sprintf(`{"local_digest":%q,"canonical_digest":%q}`, localDigest, canonicalDigest)
	return g.bus.Publish(ctx, ViolationChannel, []byte(payload))
}
