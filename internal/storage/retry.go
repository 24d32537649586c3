package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/localrag/pkg/types"
)

// RetryConfig configures the busy-retry policy for reads
type RetryConfig struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Delay before the second attempt
	Multiplier  float64       // Backoff multiplier per attempt
}

// DefaultRetryConfig matches the busy policy used for external stores.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// IsBusy reports whether err is SQLite's locked/busy condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}

// retryBusy runs fn until it succeeds, fails with a non-busy error, or the
// attempts are exhausted. Exhaustion wraps types.ErrSourceBusy.
func retryBusy[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(config.MaxAttempts, 1)
	delay := config.BaseDelay

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !IsBusy(err) {
			return zero, err
		}
		lastErr = err

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * config.Multiplier)
			}
		}
	}

	return zero, fmt.Errorf("%w: %d attempts: %v", types.ErrSourceBusy, attempts, lastErr)
}
