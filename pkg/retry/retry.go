// Package retry holds backoff policies shared by the search and model-call
// layers. Sleeping goes through clock.Clock so tests never wait.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/deepchat/pkg/clock"
)

// DelayFunc returns the pause after the given failed attempt (0-based).
type DelayFunc func(attempt int) time.Duration

// Fixed waits d between every attempt.
func Fixed(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// Exponential waits base * 2^attempt: base, 2*base, 4*base, ...
func Exponential(base time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base * time.Duration(1<<attempt)
	}
}

// Policy describes how many times an operation runs and how long to wait
// between runs.
type Policy struct {
	MaxAttempts int
	Delay       DelayFunc
	// Retryable reports whether err may be retried. Nil retries everything.
	Retryable func(error) bool
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max attempts (%d) exceeded: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempts
// run out. onRetry, when set, is called with the 1-based number of the failed
// attempt before each pause.
func (p Policy) Do(ctx context.Context, clk clock.Clock, fn func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if clk == nil {
		clk = clock.Real()
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		var delay time.Duration
		if p.Delay != nil {
			delay = p.Delay(attempt)
		}
		if err := clk.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}
