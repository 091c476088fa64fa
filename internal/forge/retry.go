package forge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/secana/k-releaser/internal/engineerr"
)

// TransientError marks an error as eligible for the retry middleware below
// (5xx responses, timeouts, connection resets); anything else is treated as
// permanent and returned immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so Do retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or something it wraps) was marked
// transient.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// ClassifyHTTPStatus wraps an HTTP response error as ErrNotFound, a
// TransientError, or leaves it as-is: 404 -> ErrNotFound (not an error to
// the caller), 5xx/429 -> transient (retried), everything else ->
// permanent.
func ClassifyHTTPStatus(status int, err error) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return Transient(err)
	default:
		return err
	}
}

// Do runs fn with exponential backoff, retrying up to 3 attempts total for
// transient errors only. Network-level errors (timeouts, connection resets) are treated
// as transient automatically even if fn didn't wrap them.
func Do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(100 * time.Millisecond)
	backoff = retry.WithMaxRetries(2, backoff) // 2 retries + the initial attempt = 3 total

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callErr := fn(ctx)
		if callErr == nil {
			return nil
		}
		if IsTransient(callErr) || isNetworkTimeout(callErr) {
			return retry.RetryableError(callErr)
		}
		return callErr
	})
	if err != nil {
		if IsTransient(err) || isNetworkTimeout(err) {
			return engineerr.New(engineerr.KindForgeTransient, "", fmt.Errorf("after retries: %w", err))
		}
		return err
	}
	return nil
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
