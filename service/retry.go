package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
	maxBackoff     = 15 * time.Second
	backoffJitter  = 0.2
)

// retryPolicy controls retries of transient inference failures
type retryPolicy struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	jitter         float64
	notify         func(err error, next time.Duration)
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		attempts:       maxRetries,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		jitter:         backoffJitter,
	}
}

func (p retryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = p.jitter
	if p.maxBackoff > 0 {
		b.MaxInterval = p.maxBackoff
	}
	return b
}

// do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// Waiting between attempts stops early when ctx is done.
func (p retryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.attempts
	if attempts <= 0 {
		attempts = 1
	}

	calls := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.notify != nil {
		opts = append(opts, backoff.WithNotify(p.notify))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		calls++
		err := fn(ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		case !isRetryable(err):
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("failed after %d attempts: %w", calls, err)
}

// errPermanent marks failures that retrying cannot fix (blocked prompts, empty candidates)
var errPermanent = errors.New("permanent inference failure")

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, errPermanent) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"429", "500", "502", "503", "504",
		"resource_exhausted", "resourceexhausted", "unavailable", "internal error",
		"connection refused", "connection reset", "broken pipe", "eof",
		"timeout", "temporary failure",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
