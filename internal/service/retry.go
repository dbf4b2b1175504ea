package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"task-management-api/internal/model"
)

// RetryPolicy bounds store calls. Reads are retried on transient failures;
// mutations only get the timeout.
type RetryPolicy struct {
	MaxRetries uint64
	Base       time.Duration
	Timeout    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Base: 25 * time.Millisecond, Timeout: 3 * time.Second}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = 25 * time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(500*time.Millisecond, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

func (p RetryPolicy) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}

// readWithRetry runs a lookup, retrying errors that are neither domain answers
// nor caller cancellation.
func readWithRetry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		callCtx, cancel := p.withTimeout(ctx)
		defer cancel()

		v, err := fn(callCtx)
		if err != nil {
			if model.IsDomainError(err) || errors.Is(err, context.Canceled) {
				return err
			}
			return retry.RetryableError(err)
		}
		out = v
		return nil
	})
	return out, err
}

// mutate runs a state change exactly once under the store timeout.
func mutate(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()
	return fn(callCtx)
}
