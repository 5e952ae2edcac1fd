package unifiedllm

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how often a failed request is re-sent. Only the
// opening of a request is retried; a stream that fails midway is not.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter  bool
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy retries twice, starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Delay returns the backoff before retry number attempt (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	for range attempt {
		delay *= p.Multiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			break
		}
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. A server-supplied Retry-After replaces the computed
// backoff; one longer than MaxDelay ends the retries.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	for attempt := 0; err != nil && attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			break
		}

		delay := policy.Delay(attempt)
		if pe, ok := AsProviderError(err); ok && pe.RetryAfter > 0 {
			if pe.RetryAfter > policy.MaxDelay {
				break
			}
			delay = pe.RetryAfter
		}

		slog.Warn("retrying request", "attempt", attempt+1, "delay", delay, "error", err)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
		result, err = fn(ctx)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
