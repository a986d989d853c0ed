package reliability

import (
	"context"
	"time"
)

// IsRetryableHTTPStatus classifies upstream statuses worth another attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	Retries int
	Base    time.Duration
	Cap     time.Duration
}

// Retry calls fn until it succeeds, reports a non-retryable failure, the
// retry budget is spent, or ctx is done. The last error is returned.
func Retry[T any](ctx context.Context, p Policy, fn func(attempt int) (T, bool, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		out, retryable, err := fn(attempt)
		if err == nil {
			return out, nil
		}
		if !retryable || attempt >= p.Retries {
			return zero, err
		}
		t := time.NewTimer(ExponentialBackoff(attempt, p.Base, p.Cap))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
}
