// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts. The clock is injectable for tests.
package retry

import (
	"context"
	"time"
)

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy is a fixed-delay retry budget.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Sleeper  Sleeper
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

func Default() Policy {
	return Policy{Attempts: 3, Delay: 2 * time.Second}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the budget
// is spent. It returns the number of attempts made and the last error.
// fn receives the 1-based attempt number.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx, i); err == nil {
			return i, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return i, err
		}
		if i == attempts {
			break
		}
		if serr := sleeper.Sleep(ctx, p.Delay); serr != nil {
			return i, err
		}
	}
	return attempts, err
}
