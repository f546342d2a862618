package providers

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// withRetry runs op with bounded exponential backoff. Jitter avoids
// thundering-herd retries against a struggling upstream.
func withRetry(ctx context.Context, attempts int, op func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	delay := retryBaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := op(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt >= attempts {
			break
		}

		jittered := delay + time.Duration(rand.Int63n(int64(delay/4)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}

	return lastErr
}
