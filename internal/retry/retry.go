// Package retry expresses bounded retry chains as a policy value.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped into the error returned once a policy gives up.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how often and how soon a failed operation may run again.
// MaxAttempts counts the first try; values below 1 mean a single try.
type Policy struct {
	MaxAttempts int
	// Backoff returns the wait before attempt+1 given the error of attempt (1-based).
	Backoff func(attempt int, err error) time.Duration
	// ShouldRetry reports whether err is worth another attempt. Nil retries every error.
	ShouldRetry func(err error) bool
	// After replaces time.After in tests.
	After func(d time.Duration) <-chan time.Time
}

// Constant waits d between attempts.
func Constant(d time.Duration) func(int, error) time.Duration {
	return func(int, error) time.Duration { return d }
}

// Exponential doubles base per attempt, capped at max.
func Exponential(base, max time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		return d
	}
}

// Allow reports whether another attempt may follow the failed attempt (1-based) and how long
// to wait first.
func (p Policy) Allow(attempt int, err error) (time.Duration, bool) {
	if err == nil || attempt >= p.maxAttempts() {
		return 0, false
	}
	if p.ShouldRetry != nil && !p.ShouldRetry(err) {
		return 0, false
	}
	if p.Backoff == nil {
		return 0, true
	}
	return p.Backoff(attempt, err), true
}

// Wait blocks for d or until ctx is done.
func (p Policy) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	after := p.After
	if after == nil {
		after = time.After
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-after(d):
		return nil
	}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, the policy refuses another attempt, or ctx ends.
// A non-retryable error is returned as is; running out of attempts wraps ErrExhausted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		delay, ok := p.Allow(attempt, err)
		if !ok {
			if p.ShouldRetry != nil && !p.ShouldRetry(err) {
				return err
			}
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}
		if waitErr := p.Wait(ctx, delay); waitErr != nil {
			return err
		}
	}
}
