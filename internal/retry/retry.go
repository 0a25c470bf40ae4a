package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     bool    // Exponential backoff
	Multiplier  float64 // growth per attempt when Backoff is set, defaults to 2
	MaxDelay    time.Duration

	// Sleep waits between attempts. Nil means a timer that also watches ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// permanentError stops WithRetry on the first occurrence.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// hintError carries a server-provided wait before the next attempt.
type hintError struct {
	err   error
	after time.Duration
}

func (e *hintError) Error() string { return e.err.Error() }
func (e *hintError) Unwrap() error { return e.err }

// After wraps a retryable err with the delay the server asked for. It
// replaces the computed backoff for the next wait.
func After(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &hintError{err: err, after: d}
}

func WithRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err

			if IsPermanent(err) {
				return err
			}

			if attempt == config.MaxAttempts {
				return fmt.Errorf("failed after %d attempts: %w", config.MaxAttempts, err)
			}

			delay := config.delayFor(attempt)
			var hint *hintError
			if errors.As(err, &hint) && hint.after > 0 {
				delay = hint.after
				if config.MaxDelay > 0 && delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			}

			if err := config.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		return nil
	}

	return lastErr
}

func (c RetryConfig) delayFor(attempt int) time.Duration {
	delay := c.Delay
	if c.Backoff {
		m := c.Multiplier
		if m <= 1 {
			m = 2
		}
		delay = time.Duration(float64(c.Delay) * math.Pow(m, float64(attempt-1)))
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func (c RetryConfig) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
