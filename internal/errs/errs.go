// Package errs models the error taxonomy every pipeline stage returns:
// transient-vs-fatal-vs-validation, never a bare string.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so a worker loop knows whether to retry,
// dead-letter, or exit.
type Kind string

const (
	Transient      Kind = "transient"       // retry with backoff, redelivery assumed
	Validation     Kind = "validation"      // malformed input message, dead-letter after N redeliveries
	SelfValidation Kind = "self_validation" // our own output failed a contract check; fail the topic, no downstream
	Fatal          Kind = "fatal"           // missing config / bad credentials; process exits non-zero
	NotFound       Kind = "not_found"       // referenced blob/lease/record absent
	RateLimited    Kind = "rate_limited"    // caller should wait and retry
	Security       Kind = "security"        // path traversal, oversized payload, non-zero subprocess exit
)

// Error is the single error type returned by every public pipeline operation.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "collector.collect"
	Err     error  // wrapped cause, may be nil
	Retryable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error, defaulting Retryable from Kind when not overridden.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err, Retryable: kind == Transient || kind == RateLimited}
}

func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return New(op, kind, err)
}

// KindOf extracts the Kind from err, defaulting to Transient for unmodeled
// errors so unexpected failures still get retried rather than dropped.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}
