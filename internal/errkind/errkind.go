// Package errkind declares the closed error-kind taxonomy from the
// coordination core's error handling design. Every kind carries a
// stable name usable as both a log field and a metrics label.
package errkind

import "fmt"

// Kind is one of the closed set of error kinds the core surfaces.
type Kind string

const (
	InvalidSignal        Kind = "InvalidSignal"
	NamespaceViolation    Kind = "NamespaceViolation"
	PolicyViolation       Kind = "PolicyViolation"
	InvalidTTL            Kind = "InvalidTTL"
	TransientUnavailable  Kind = "TransientUnavailable"
	Timeout               Kind = "Timeout"
	SimulatedFailure      Kind = "SimulatedFailure"
	ChaosTrip             Kind = "ChaosTrip"
	DuplicateSignal       Kind = "DuplicateSignal"
	RateLimited           Kind = "RateLimited"
	KycDenied             Kind = "KycDenied"
	JurisdictionDenied    Kind = "JurisdictionDenied"
	DrawdownBreach        Kind = "DrawdownBreach"
	ConfigDrift           Kind = "ConfigDrift"
	BackpressureDrop      Kind = "BackpressureDrop"
	Fatal                 Kind = "Fatal"
)

// String implements fmt.Stringer so Kind can be used directly as a
// zap.String/metrics-label value.
func (k Kind) String() string { return string(k) }

// Error wraps a Kind with context, satisfying the error interface while
// keeping the kind inspectable via As/Is.
type Error struct {
	Kind    Kind
	Op      string // module/action the error occurred in
	Reason  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New constructs an *Error for the given kind.
func New(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

// Wrap constructs an *Error that wraps another error.
func Wrap(kind Kind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Wrapped: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; returns Fatal, false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if asError(err, &e) {
		return e.Kind, true
	}
	return Fatal, false
}

// asError is a narrow errors.As to avoid importing errors solely for this.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Terminal reports whether this kind is terminal for the signal only
// (annotated and dropped, no retry) per the propagation policy in §7.
func Terminal(k Kind) bool {
	switch k {
	case PolicyViolation, KycDenied, JurisdictionDenied, InvalidSignal, DuplicateSignal:
		return true
	default:
		return false
	}
}

// Retryable reports whether this kind should be retried with backoff.
func Retryable(k Kind) bool {
	return k == TransientUnavailable
}
