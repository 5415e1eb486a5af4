package store

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned when a session, message or branch key does not
	// exist (or has expired).
	ErrNotFound = errors.New("not found")

	// ErrLockTimeout is returned when the per-session lock could not be
	// acquired within the bounded wait. Retryable.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrNotInitialized is returned when the backing store has not been set
	// up (nil client, closed store).
	ErrNotInitialized = errors.New("store not initialized")

	// ErrStoreUnavailable is returned when the backing store is unreachable.
	// Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsRetryable reports whether the error is a transient condition that callers
// may retry with backoff. Deterministic failures (ErrNotFound) are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStoreUnavailable)
}

// RetryConfig bounds the retry loop used for transient store failures.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// RetryWithBackoff runs fn, retrying retryable errors with capped exponential
// backoff and jitter. Deterministic errors surface immediately.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		log.Debug().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("backoff", sleep).
			Msg("retrying store operation")

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "retry cancelled")
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return errors.Wrapf(lastErr, "giving up after %d attempts", cfg.MaxAttempts)
}
