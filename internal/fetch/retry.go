package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/h0rv/jex/internal/jira"
	"github.com/rs/zerolog"
)

// DefaultMaxAttempts is the number of consecutive failed attempts at one
// cursor position before the fetch gives up.
const DefaultMaxAttempts = 100

// RemoteTransientError is returned when a page kept failing with retryable
// errors until the attempt limit was reached.
type RemoteTransientError struct {
	Position string // Cursor position of the failing page
	Attempts int
	Err      error // Last failure
}

func (e *RemoteTransientError) Error() string {
	return fmt.Sprintf("page %s failed %d times: %v", e.Position, e.Attempts, e.Err)
}

func (e *RemoteTransientError) Unwrap() error { return e.Err }

// Retrier repeats remote calls that fail with retryable errors.
type Retrier struct {
	MaxAttempts int
	// NewBackOff returns a fresh retry schedule for each call.
	// Defaults to exponential backoff capped at one minute between attempts.
	NewBackOff func() backoff.BackOff
	// OnRetry is told about every failed attempt that will be retried.
	OnRetry func(attempt int, err error)
	Logger  zerolog.Logger
}

func defaultBackOff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0
	return bo
}

// Do runs op until it succeeds, fails permanently or exhausts the attempt
// limit, in which case it returns a *RemoteTransientError.
func (r *Retrier) Do(ctx context.Context, position string, op func() error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	newBackOff := r.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}

	var (
		attempts  int
		permanent bool
		last      error
	)
	bo := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(maxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		last = err
		if !IsRetryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, wait time.Duration) {
		r.Logger.Debug().Err(err).Dur("wait", wait).Str("position", position).Int("attempt", attempts).Msg("retrying")
		if r.OnRetry != nil {
			r.OnRetry(attempts, err)
		}
	})
	if err == nil {
		return nil
	}
	if permanent || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &RemoteTransientError{Position: position, Attempts: attempts, Err: last}
}

// IsRetryable reports whether a failed request may succeed when repeated.
// Bad requests, rejected credentials and missing resources are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jira.ErrUnauthorized) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *jira.StatusError
	if errors.As(err, &status) {
		switch status.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return false
		}
	}
	return true
}
