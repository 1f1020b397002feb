package domain

import (
	"errors"
	"fmt"
	"time"
)

// ProviderErrorKind classifies a failed provider request.
type ProviderErrorKind string

const (
	ErrKindRateLimited  ProviderErrorKind = "rate_limited"
	ErrKindTransient    ProviderErrorKind = "transient"
	ErrKindNotFound     ProviderErrorKind = "not_found"
	ErrKindUnauthorized ProviderErrorKind = "unauthorized"
)

// Retryable reports whether a request failing with this kind may succeed if
// repeated.
func (k ProviderErrorKind) Retryable() bool {
	return k == ErrKindRateLimited || k == ErrKindTransient
}

// ProviderError is returned by the provider client once a request has failed
// for good, either immediately or after exhausting retries.
type ProviderError struct {
	Kind     ProviderErrorKind
	Symbol   string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s for %s after %d attempt(s): %v", e.Kind, e.Symbol, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StorageError wraps any persistence failure.
type StorageError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError describes why a single bar was rejected.
type ValidationError struct {
	Symbol    string
	Timestamp time.Time
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid bar %s@%s: %s", e.Symbol, e.Timestamp.Format(time.RFC3339), e.Reason)
}

// CalendarError means the expected timestamp set cannot be computed. It is
// fatal for a run.
type CalendarError struct {
	Reason string
}

func (e *CalendarError) Error() string { return "calendar: " + e.Reason }

// IsProviderKind reports whether err is a ProviderError of the given kind.
func IsProviderKind(err error, kind ProviderErrorKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == kind
}
