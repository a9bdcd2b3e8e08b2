// Package execution implements Execution & Post-Trade (§4.9): the
// Execution Controller boundary, the Retry Throttle, the Slippage and
// Phantom Fill detectors, the Session PnL Tracker, and the Net
// Realized Profit Router. It also implements the Position Restorer
// (§4.10), which straddles execution and startup recovery.
package execution

import (
	"encoding/json"
	"fmt"
	"time"

	"titan/internal/signal"
)

// Channels named in §6/§4.9. ExecutionChannel mirrors
// signal.ExecutionChannel (the Router's publish target); the
// Execution Controller itself is an external boundary (Non-goal (a))
// and is not implemented here.
const (
	ExecutionChannel = signal.ExecutionChannel
	TradeChannel     = "titan:core:trade"
	FailureChannel   = "titan:core:failure"
)

// Trade is the §6 normative trade-event schema.
type Trade struct {
	SignalID string  `json:"signal_id"`
	TenantID string  `json:"tenant_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Fee      float64 `json:"fee"`
	Ts       int64   `json:"ts"`

	// ExpectedPrice is the price the originating signal carried, used
	// by the Slippage Detector; it is not part of the normative wire
	// schema and is populated by the caller from the matching signal
	// when available.
	ExpectedPrice float64 `json:"expected_price,omitempty"`
}

// Failure is published by the (external) Execution Controller when an
// order placement attempt does not result in a fill.
type Failure struct {
	SignalID string `json:"signal_id"`
	TenantID string `json:"tenant_id"`
	Reason   string `json:"reason"`
	Attempt  int    `json:"attempt"`
}

func marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("execution: encode failed: %w", err)
	}
	return data, nil
}

// unixMillis is a small helper kept local to this package so callers
// constructing a Trade don't need to import time themselves just for
// the timestamp field.
func unixMillis(t time.Time) int64 { return t.UnixMilli() }
