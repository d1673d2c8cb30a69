package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testRetryPolicy(waits *[]time.Duration) retryPolicy {
	return retryPolicy{
		attempts:       3,
		initialBackoff: time.Millisecond,
		maxBackoff:     time.Second,
		notify: func(_ error, next time.Duration) {
			*waits = append(*waits, next)
		},
	}
}

func TestRetryPolicyRetriesTransientErrors(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := testRetryPolicy(&waits).do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("googleapi: Error 503: model overloaded")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := testRetryPolicy(&waits).do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("prompt blocked: %w", errPermanent)
	})

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, "prompt blocked: permanent inference failure", err.Error())
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestRetryPolicyGivesUp(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := testRetryPolicy(&waits).do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("rpc error: code = Unavailable")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2)
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := defaultRetryPolicy().do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("503 unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyCapsBackoff(t *testing.T) {
	var waits []time.Duration
	policy := testRetryPolicy(&waits)
	policy.attempts = 5
	policy.maxBackoff = 3 * time.Millisecond

	_ = policy.do(context.Background(), func(context.Context) error {
		return errors.New("429 resource_exhausted")
	})

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond}, waits)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(context.DeadlineExceeded))
	assert.False(t, isRetryable(errors.New("invalid argument")))
	assert.True(t, isRetryable(errors.New("Error 429: quota")))
	assert.True(t, isRetryable(errors.New("read: connection reset by peer")))
}
