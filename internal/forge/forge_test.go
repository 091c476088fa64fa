package forge

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyHTTPStatus(t *testing.T) {
	if err := ClassifyHTTPStatus(404, errors.New("x")); err != ErrNotFound {
		t.Fatalf("404 should classify as ErrNotFound, got %v", err)
	}
	if err := ClassifyHTTPStatus(503, errors.New("boom")); !IsTransient(err) {
		t.Fatalf("503 should classify as transient, got %v", err)
	}
	permanent := errors.New("bad request")
	if err := ClassifyHTTPStatus(400, permanent); err != permanent {
		t.Fatalf("400 should pass through unchanged, got %v", err)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Transient(errors.New("always flaky"))
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts (1 + 2 retries), got %d", attempts)
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	sentinel := errors.New("permanent")
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error unwrapped, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a permanent error, got %d", attempts)
	}
}

func TestSupportsDraftAndLatest(t *testing.T) {
	if !SupportsDraft(DialectA) || SupportsDraft(DialectB) || !SupportsDraft(DialectC) {
		t.Fatal("draft support table mismatch")
	}
	if !SupportsLatest(DialectA) || SupportsLatest(DialectB) || SupportsLatest(DialectC) {
		t.Fatal("latest support table mismatch")
	}
	if RequiresLabelCreation(DialectA) || !RequiresLabelCreation(DialectB) || RequiresLabelCreation(DialectC) {
		t.Fatal("label creation requirement table mismatch")
	}
}
