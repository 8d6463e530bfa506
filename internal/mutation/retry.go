package mutation

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds automatic retries of one logical mutation.
type RetryPolicy struct {
	// MaxAttempts is the total number of physical attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Classify decides whether a failed attempt may be retried.
//
// No status (network failure) and 5xx retry; 429 retries only when retryRateLimited is set;
// every other failure is terminal.
func Classify(err error, retryRateLimited bool) bool {
	switch KindOf(err) {
	case NetworkFailure, TransientServerFault:
		return true
	case RateLimited:
		return retryRateLimited
	}
	return false
}

// Delay returns the wait before attempt n+1 after attempt n (1-based) failed with err.
// A server Retry-After hint wins when larger than the computed backoff, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	d := p.backoff(attempt)
	if merr, ok := AsError(err); ok && merr.RetryAfter > d {
		d = merr.RetryAfter
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// backoff is exponential from BaseDelay with up to 50% jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}

	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}

	if jitter := int64(d / 2); jitter > 0 {
		d += time.Duration(rand.Int64N(jitter))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
