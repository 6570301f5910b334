package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesByKindRegardlessOfMessage(t *testing.T) {
	err := New(NotFound, "memory_not_found", "memory abc123 does not exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected errors.Is to match sentinels of the same kind")
	}
	if errors.Is(err, ErrQuotaExceeded) {
		t.Fatal("expected errors.Is to reject a different kind")
	}
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := fmt.Errorf("sqlite: disk I/O error")
	err := Wrap(StoreUnavailable, "store_unavailable", "relational store unreachable", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap to expose the original cause")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatal("expected the wrapped error to still match its own kind")
	}
}

func TestKindOf_ExtractsKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("claim task: %w", New(VersionConflict, "version_conflict", "task was claimed concurrently"))

	kind, ok := KindOf(err)
	if !ok {
		t.Fatal("expected KindOf to find the wrapped *Error")
	}
	if kind != VersionConflict {
		t.Fatalf("expected VersionConflict, got %s", kind)
	}
}

func TestKindOf_FalseForPlainErrors(t *testing.T) {
	if _, ok := KindOf(errors.New("unstructured failure")); ok {
		t.Fatal("expected KindOf to report false for a non-*Error")
	}
}

func TestWithRetryAfter_SetsField(t *testing.T) {
	err := New(Overloaded, "overloaded", "queue full").WithRetryAfter(500)
	if err.RetryAfterMs == nil || *err.RetryAfterMs != 500 {
		t.Fatalf("expected RetryAfterMs=500, got %+v", err.RetryAfterMs)
	}
}

func TestWithConflictVersion_SetsField(t *testing.T) {
	err := New(VersionConflict, "version_conflict", "stale version").WithConflictVersion(7)
	if err.ConflictVersion == nil || *err.ConflictVersion != 7 {
		t.Fatalf("expected ConflictVersion=7, got %+v", err.ConflictVersion)
	}
}
