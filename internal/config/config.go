// Package config implements the canonical Configuration & Drift Guard
// (§4.5): a hashed canonical document, per-client document-wise merge,
// and an hourly guard comparing the in-process hash against the
// stored digest.
package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"titan/internal/bus"
	"titan/internal/errkind"
)

// HashKey is where the canonical config digest is stored (§4.5).
const HashKey = "titan:infra:config_hash"

// Document is an arbitrary client/tenant configuration document. Keys
// are sorted before hashing so two documents with the same content in
// different field order hash identically.
type Document map[string]interface{}

// Digest returns the stable SHA-256 hex digest of doc: its keys are
// sorted and re-encoded before hashing so insertion order never
// affects the hash.
func Digest(doc Document) (string, error) {
	canonical, err := canonicalize(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize re-marshals doc with keys sorted at every level,
// producing a byte-stable encoding suitable for hashing.
func canonicalize(doc Document) ([]byte, error) {
	sorted := sortedValue(map[string]interface{}(doc))
	return json.Marshal(sorted)
}

func sortedValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			out = append(out, orderedEntry{k, sortedValue(val[k])})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sortedValue(item)
		}
		return out
	default:
		return val
	}
}

// orderedMap/orderedEntry force json.Marshal to emit object keys in
// the order we already sorted them, rather than Go's native map
// encoder (which also sorts, but re-deriving that guarantee here keeps
// the digest stable even if that stdlib behavior were ever to change).
type orderedEntry struct {
	Key   string
	Value interface{}
}
type orderedMap []orderedEntry

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// Merge combines a default document with a client override, client
// values winning on key collision (§4.5 document-wise merge). Nested
// objects are merged recursively; any other type is overwritten
// wholesale by the client's value.
func Merge(base, client Document) Document {
	out := make(Document, len(base)+len(client))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range client {
		if existing, ok := out[k]; ok {
			if existingMap, ok1 := existing.(map[string]interface{}); ok1 {
				if clientMap, ok2 := v.(map[string]interface{}); ok2 {
					out[k] = map[string]interface{}(Merge(Document(existingMap), Document(clientMap)))
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

// ClientConfigKey is where a client's merged configuration is
// published for consumers (§4.5).
func ClientConfigKey(clientID string) string {
	return fmt.Sprintf("titan:prod:config:%s", clientID)
}

// Store publishes the document-wise merge of base and the
// `{clientID}_config` override document the caller passes to Publish
// under ClientConfigKey, versioned by an atomic swap counter.
type Store struct {
	bus  bus.Bus
	base Document
}

// New constructs a Store seeded with the process-wide default
// document.
func New(b bus.Bus, base Document) *Store {
	return &Store{bus: b, base: base}
}

// versionKey tracks the atomic-swap version counter for clientID's
// merged config (§4.5: "reloads are atomic swaps by version counter").
func versionKey(clientID string) string {
	return fmt.Sprintf("titan:prod:config:%s:version", clientID)
}

// Publish merges base with clientOverride and publishes the result
// under ClientConfigKey(clientID), bumping the version counter.
func (s *Store) Publish(ctx context.Context, clientID string, clientOverride Document) error {
	merged := Merge(s.base, clientOverride)
	data, err := json.Marshal(merged)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "config.Store.Publish", "encode failed", err)
	}
	if _, err := s.bus.Incr(ctx, versionKey(clientID)); err != nil {
		return err
	}
	return s.bus.Set(ctx, ClientConfigKey(clientID), data, recordTTL)
}

// recordTTL mirrors the Registry's long-lived default; configuration
// is re-published on every reload, so the TTL only guards against a
// client's key lingering forever after it's decommissioned.
const recordTTL = 24 * time.Hour
