package mutation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		kind      Kind
		retry429  bool
		wantRetry bool
	}{
		{NetworkFailure, false, true},
		{TransientServerFault, false, true},
		{RateLimited, true, true},
		{RateLimited, false, false},
		{NeedStepUp, true, false},
		{InvalidInput, true, false},
		{ProtocolViolation, true, false},
		{TerminalClientError, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.wantRetry, Classify(&Error{Kind: tt.kind}, tt.retry429))
		})
	}

	assert.False(t, Classify(errors.New("unclassified"), true))
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	t.Run("grows exponentially with bounded jitter", func(t *testing.T) {
		for attempt, base := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 400 * time.Millisecond} {
			d := p.Delay(attempt, nil)
			assert.GreaterOrEqual(t, d, base)
			assert.Less(t, d, base+base/2)
		}
	})

	t.Run("never exceeds max delay", func(t *testing.T) {
		assert.LessOrEqual(t, p.Delay(10, nil), time.Second)
	})

	t.Run("honours a larger Retry-After", func(t *testing.T) {
		d := p.Delay(1, &Error{Kind: RateLimited, RetryAfter: 700 * time.Millisecond})
		assert.Equal(t, 700*time.Millisecond, d)
	})

	t.Run("zero base delay", func(t *testing.T) {
		assert.Zero(t, RetryPolicy{MaxAttempts: 3}.Delay(2, nil))
	})

	t.Run("attempts floor at one", func(t *testing.T) {
		assert.Equal(t, 1, RetryPolicy{}.attempts())
		assert.Equal(t, 3, DefaultRetryPolicy().attempts())
	})
}
