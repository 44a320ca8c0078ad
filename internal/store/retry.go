package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	writeMaxRetries = 3
	writeBaseDelay  = 50 * time.Millisecond
)

// withRetry runs fn, retrying with exponential backoff (50ms, 100ms) while
// retryable reports the error as a transient lock conflict.
func withRetry(ctx context.Context, op string, retryable func(error) bool, fn func() error) error {
	var err error
	for i := 0; i < writeMaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || i == writeMaxRetries-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i)
		slog.Debug("Store write conflicted, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return err
}
