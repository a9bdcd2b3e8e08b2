// Package registry implements the Module Record catalog, Health
// Monitor, Restart Queue and Dependency Resolver (§4.4).
package registry

import (
	"encoding/json"
	"time"

	"titan/internal/runtime"
)

// Status is the module lifecycle state (§3).
type Status string

const (
	StatusLive       Status = "live"
	StatusDeprecated Status = "deprecated"
	StatusCanary     Status = "canary"
	StatusRetired    Status = "retired"
)

// RecordTTL is the default Registry record TTL, refreshed by heartbeat
// (§4.4).
const RecordTTL = 24 * time.Hour

// Record is a Module Record (§3): metadata, declared capabilities, and
// health bookkeeping for one registered module.
type Record struct {
	Name    string       `json:"name"`
	Version string       `json:"version"`
	Creator string       `json:"creator"`
	Type    runtime.Type `json:"type"`
	Status  Status       `json:"status"`

	// DeclaredKeys holds raw glob patterns (e.g. "titan:*:signal:*");
	// compile with namespace.MustDeclare before use as a Guard.
	DeclaredKeys     []string `json:"declared_keys"`
	DeclaredChannels []string `json:"declared_channels"`

	CreatedAt       time.Time `json:"created_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	RestartCount    int       `json:"restart_count"`
}

// Key returns the identity the registry idempotency rule applies to.
func (r Record) Key() string { return r.Name + "@" + r.Version }

// MarshalJSON / UnmarshalJSON are the default struct tags; declared
// explicitly-named helpers below keep storage format stable even if
// the struct gains fields later.

func encodeRecord(r Record) ([]byte, error) { return json.Marshal(r) }

func decodeRecord(data []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(data, &r)
	return r, err
}
