package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	amerrors "github.com/juliecode/julie/internal/errors"
)

// RetryConfig configures retry behavior for model downloads and provider
// calls.
type RetryConfig struct {
	MaxRetries   int           // Maximum number of retry attempts (not including initial attempt)
	InitialDelay time.Duration // Delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// CallWithRetry executes fn with exponential backoff, consulting the
// error taxonomy between attempts: a typed error marked non-retryable
// (config errors, validation failures) aborts immediately instead of
// burning the remaining attempts against a failure that cannot change.
// Untyped errors are assumed transient. The delay grows exponentially,
// capped at MaxDelay; context cancellation returns immediately.
func CallWithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// A typed non-retryable error cannot succeed on retry.
		var typed *amerrors.JulieError
		if errors.As(err, &typed) && !typed.Retryable {
			return err
		}

		// If this was the last attempt, don't wait
		if attempt >= cfg.MaxRetries {
			break
		}

		// Wait before retrying (with context cancellation support)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		// Exponential backoff, capped
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// DownloadWithRetry executes a model download with exponential backoff.
// Downloads are always worth retrying: the failure modes are network
// transients, not bad input.
func DownloadWithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	return CallWithRetry(ctx, cfg, fn)
}
