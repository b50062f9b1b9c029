package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultAttempts = 3
	defaultDelay    = time.Second
)

// Executor wraps store mutations with bounded retry. It is deliberately not
// used around provider API calls; retrying those could issue duplicate
// charges or STK pushes.
type Executor struct {
	attempts uint64
	delay    time.Duration
}

// New returns an executor with the platform defaults: 3 attempts, a fixed
// one-second delay between them, surfacing the last error after exhaustion.
func New() *Executor {
	return &Executor{attempts: defaultAttempts, delay: defaultDelay}
}

// NewWith returns an executor with explicit bounds, for tests.
func NewWith(attempts uint64, delay time.Duration) *Executor {
	if attempts == 0 {
		attempts = 1
	}
	return &Executor{attempts: attempts, delay: delay}
}

// Do invokes fn until it succeeds or the attempt budget runs out. Every error
// from fn is treated as transient.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := e.delay
	if delay <= 0 {
		// NewConstant panics on non-positive intervals.
		delay = time.Nanosecond
	}
	backoff := retry.WithMaxRetries(e.attempts-1, retry.NewConstant(delay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
