package db

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WithRetry runs fn until it succeeds, returns an error retryable rejects,
// or maxAttempts is reached. fn must be a complete unit of work (usually a
// whole transaction) so that re-running it is safe.
func WithRetry(ctx context.Context, maxAttempts int, retryable func(error) bool, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 10 * time.Millisecond
	expo.MaxInterval = 250 * time.Millisecond
	expo.MaxElapsedTime = 5 * time.Second
	expo.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if retryable != nil && retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
