package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Retry calls fn up to maxAttempts times with a fixed delay between calls.
// It gives up early when ctx is done.
func Retry(ctx context.Context, log *logrus.Entry, maxAttempts int, delay time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := fn(ctx); err != nil {
			lastErr = err
			log.Errorf("Attempt %d/%d failed: %v", attempt, maxAttempts, err)
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
				case <-time.After(delay):
				}
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
