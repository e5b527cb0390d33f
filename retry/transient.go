package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/orbital-run/jobctl/platform"
)

// WithTransientRetry runs op, retrying with exponential backoff while the
// returned error is platform.KindTransient, up to maxAttempts. Conflicts,
// validation errors, and everything else surface immediately: the core
// never second-guesses a state-machine violation.
func WithTransientRetry[T any](ctx context.Context, maxAttempts int, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if platform.KindOf(err) != platform.KindTransient {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxAttempts)))
}
