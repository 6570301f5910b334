// Package errs defines the typed error kinds surfaced by the memory engine's
// public operation surface (spec.md §7). Internal, non-discriminated errors
// still use plain fmt.Errorf("...: %w", err) wrapping; this package exists
// for the errors callers need to branch on.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the ten error categories callers of the public operation
// surface may need to distinguish.
type Kind string

const (
	NotFound         Kind = "NotFound"
	VersionConflict  Kind = "VersionConflict"
	QuotaExceeded    Kind = "QuotaExceeded"
	IndexUnavailable Kind = "IndexUnavailable"
	StoreUnavailable Kind = "StoreUnavailable"
	Overloaded       Kind = "Overloaded"
	CircuitOpen      Kind = "CircuitOpen"
	PolicyDenied     Kind = "PolicyDenied"
	InvalidArgument  Kind = "InvalidArgument"
	Timeout          Kind = "Timeout"
)

// Error is the structured error type returned by the public operation
// surface. Every error carries a kind, a stable code, a human-readable
// message, and optionally a retry hint or the version a caller conflicted
// against.
type Error struct {
	Kind            Kind
	Code            string
	Message         string
	RetryAfterMs    *int64
	ConflictVersion *int64
	Cause           error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, errs.New(kind, ...)) by comparing kinds, so
// callers can write errors.Is(err, errs.ErrNotFound) against a sentinel
// built with the same kind regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs an *Error of the given kind with a stable code and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithRetryAfter sets RetryAfterMs and returns the same *Error for chaining.
func (e *Error) WithRetryAfter(ms int64) *Error {
	e.RetryAfterMs = &ms
	return e
}

// WithConflictVersion sets ConflictVersion and returns the same *Error for
// chaining.
func (e *Error) WithConflictVersion(v int64) *Error {
	e.ConflictVersion = &v
	return e
}

// Sentinels for errors.Is comparisons where callers don't need a custom
// message — matching is by Kind via (*Error).Is, so these are usable
// directly as the `target` argument.
var (
	ErrNotFound         = New(NotFound, "not_found", "resource not found")
	ErrVersionConflict  = New(VersionConflict, "version_conflict", "version conflict")
	ErrQuotaExceeded    = New(QuotaExceeded, "quota_exceeded", "quota exceeded")
	ErrIndexUnavailable = New(IndexUnavailable, "index_unavailable", "vector index unavailable")
	ErrStoreUnavailable = New(StoreUnavailable, "store_unavailable", "relational store unavailable")
	ErrOverloaded       = New(Overloaded, "overloaded", "request queue is full")
	ErrCircuitOpen      = New(CircuitOpen, "circuit_open", "circuit breaker is open")
	ErrPolicyDenied     = New(PolicyDenied, "policy_denied", "denied by project rule")
	ErrInvalidArgument  = New(InvalidArgument, "invalid_argument", "invalid argument")
	ErrTimeout          = New(Timeout, "timeout", "operation timed out")
)

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
