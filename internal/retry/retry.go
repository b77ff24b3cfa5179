// Package retry runs operations against unreliable remote services.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy describes how an operation is retried.
// MaxAttempts counts every call to the operation; zero means unbounded.
type Policy struct {
	Delay       time.Duration // Delay is the wait before the first retry
	MaxDelay    time.Duration // MaxDelay caps the wait; zero means no cap
	Multiplier  float64       // Multiplier grows the wait per retry; below 1 means fixed
	MaxAttempts int           // MaxAttempts bounds calls to the operation
}

// Fixed returns an unbounded policy waiting delay between attempts.
func Fixed(delay time.Duration) Policy {
	return Policy{Delay: delay, Multiplier: 1}
}

// Exponential returns a policy doubling the wait from min up to max,
// allowing retries retries after the first attempt.
func Exponential(min, max time.Duration, retries int) Policy {
	return Policy{Delay: min, MaxDelay: max, Multiplier: 2, MaxAttempts: retries + 1}
}

// Unbounded reports whether the policy never gives up on its own.
func (p Policy) Unbounded() bool {
	return p.MaxAttempts <= 0
}

// Retries returns the number of retries after the first attempt,
// or -1 when unbounded.
func (p Policy) Retries() int {
	if p.Unbounded() {
		return -1
	}

	return p.MaxAttempts - 1
}

// Backoff returns the wait before retry number attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	wait := p.Delay
	if p.Multiplier > 1 {
		f := float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt-1))
		if f >= math.MaxInt64 {
			wait = time.Duration(math.MaxInt64)
		} else {
			wait = time.Duration(f)
		}
	}

	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}

	return wait
}

// ExhaustedError is returned when a bounded policy runs out of attempts.
type ExhaustedError struct {
	Attempts int   // Attempts is the number of calls made
	Err      error // Err is the last failure
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s):\n%v", e.Attempts, e.Err)
}

// Unwrap returns the last failure.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, the policy gives up or ctx is done.
// onRetry, if set, is called before each wait.
func Do(ctx context.Context, p Policy, onRetry func(attempt int, err error, wait time.Duration), fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !p.Unbounded() && attempt >= p.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted:\n%w", ctx.Err())
		case <-timer.C:
		}
	}
}
