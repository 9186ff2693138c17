package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the sync failure taxonomy.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrUpstreamUnavailable indicates a transient upstream failure
	// (network error, timeout, 5xx). The affected records are retried
	// in the next cycle.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrAuthFailure indicates rejected credentials. Fatal: the cycle
	// aborts, remaining records stay pending.
	ErrAuthFailure = errors.New("authentication failure")
)

// SchemaMismatchError is returned by mapping when a required field is
// absent or unparsable. Permanent: the record is marked failed and is
// never retried.
type SchemaMismatchError struct {
	Source     SourceSystem
	ExternalID string
	Field      string
	Reason     string
}

func (e *SchemaMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("schema mismatch for %s/%s: field %q: %s", e.Source, e.ExternalID, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema mismatch for %s/%s: missing required field %q", e.Source, e.ExternalID, e.Field)
}

// IsSchemaMismatch reports whether err is a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}

// PushError wraps a destination write failure with its HTTP status so
// callers can distinguish retryable (timeout, 5xx, 429) from permanent
// (other 4xx) failures. StatusCode 0 means a network-level failure.
type PushError struct {
	SObject    string
	StatusCode int
	Body       string
	Err        error
}

func (e *PushError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("push %s: %v", e.SObject, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("push %s: status %d: %s", e.SObject, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("push %s: status %d", e.SObject, e.StatusCode)
}

// Unwrap returns the underlying error for chain traversal.
func (e *PushError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient. Network errors,
// timeouts, 5xx and 429 responses qualify; other 4xx do not.
func (e *PushError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Is maps PushError onto the sentinel taxonomy: 401 matches
// ErrAuthFailure, retryable failures match ErrUpstreamUnavailable.
func (e *PushError) Is(target error) bool {
	switch target {
	case ErrAuthFailure:
		return e.StatusCode == 401
	case ErrUpstreamUnavailable:
		return e.Retryable()
	}
	return false
}

// IsRetryable reports whether err should be retried in a later cycle.
// AuthFailure is fatal, not retryable at the record level.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrAuthFailure) {
		return false
	}
	var pe *PushError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return errors.Is(err, ErrUpstreamUnavailable)
}
