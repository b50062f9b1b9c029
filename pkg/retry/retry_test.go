package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutor_SucceedsWithoutRetry(t *testing.T) {
	exec := NewWith(3, time.Millisecond)

	calls := 0
	err := exec.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestExecutor_RetriesTransientFailure(t *testing.T) {
	exec := NewWith(3, time.Millisecond)

	calls := 0
	err := exec.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExecutor_SurfacesLastErrorAfterExhaustion(t *testing.T) {
	exec := NewWith(3, time.Millisecond)

	last := errors.New("attempt 3")
	calls := 0
	err := exec.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 3 {
			return last
		}
		return errors.New("earlier attempt")
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, last) {
		t.Fatalf("expected last error surfaced, got %v", err)
	}
}

func TestExecutor_StopsOnContextCancel(t *testing.T) {
	exec := NewWith(5, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	errFn := errors.New("still failing")
	err := exec.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errFn
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}
