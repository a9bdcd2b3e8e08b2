// Package reportapi is the read-only reporting surface named in
// SPEC_FULL.md: registry/health, Capital Book, and Session PnL data
// for the terminal/UI consumers and operator tooling described in
// §1 Non-goal (e) ("only the data they consume"). It never accepts
// writes — mutating control commands live in internal/httpapi.
package reportapi
