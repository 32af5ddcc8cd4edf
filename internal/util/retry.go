package util

import (
	"context"
	"errors"
	"time"
)

// permanentError stops Retry from making further attempts.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to maxAttempts times, sleeping a fixed delay between
// attempts. fn receives the 1-based attempt number. It returns nil on the
// first successful call, the unwrapped error of a Permanent failure, or the
// last error if all attempts fail. The delay respects ctx cancellation.
func Retry(ctx context.Context, maxAttempts int, delay time.Duration, fn func(attempt int) error) error {
	var err error
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return err
}
