// Package upstream holds the error taxonomy and retry policy shared by the
// clients that call remote providers (embedding API, vector index).
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

var (
	// ErrUnavailable means a provider kept failing transiently until the
	// retry budget ran out, or the caller's deadline expired first.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrTerminal means the provider rejected the call in a way retrying
	// cannot fix (auth, bad input, misconfiguration).
	ErrTerminal = errors.New("upstream terminal error")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Retryable marks err as transient so Do will try again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Terminal marks err as permanent. Do returns it on the first occurrence.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Policy bounds the exponential backoff applied by Do.
type Policy struct {
	Base        time.Duration
	Max         time.Duration // cap per wait, 0 = uncapped
	MaxAttempts int
	Logger      *slog.Logger
}

func (p Policy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := retry.NewExponential(base)
	if p.Max > 0 {
		b = retry.WithCappedDuration(p.Max, b)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent.
//
// Returned errors:
//   - errors marked Terminal (or unmarked) are returned as-is
//   - exhausted transient errors wrap ErrUnavailable
//   - a cancelled or expired ctx wraps ErrUnavailable and the ctx error
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			if p.Logger != nil {
				p.Logger.Warn("upstream call failed, retrying",
					slog.String("op", op),
					slog.Int("attempt", attempt),
					slog.Any("err", err),
				)
			}
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrTerminal) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, ctxErr)
	}
	if IsRetryable(err) {
		return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrUnavailable, attempt, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
