// Package ratelimit implements a fixed-window request governor over a
// pluggable counter store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"task-management-api/internal/security"
)

// Store atomically adds one hit to key within the window starting at
// windowStart and returns the count including that hit.
type Store interface {
	Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int, error)
}

type FailurePolicy string

const (
	// FailDeny rejects every request while the store is unavailable.
	FailDeny FailurePolicy = "deny"
	// FailLocal falls back to an in-process token bucket per key.
	FailLocal FailurePolicy = "local"
)

func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch policy := FailurePolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case FailDeny, FailLocal:
		return policy, nil
	case "":
		return FailDeny, nil
	default:
		return "", fmt.Errorf("unknown rate limit failure policy %q", raw)
	}
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the primary store could not be consulted.
	Degraded bool
}

type Limiter struct {
	store          Store
	clock          security.Clock
	timeout        time.Duration
	policy         FailurePolicy
	fallback       *localFallback
	onStoreFailure func(err error)
}

type Option func(*Limiter)

func WithClock(clock security.Clock) Option {
	return func(l *Limiter) { l.clock = clock }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(l *Limiter) { l.timeout = timeout }
}

func WithFailurePolicy(policy FailurePolicy) Option {
	return func(l *Limiter) { l.policy = policy }
}

func WithStoreFailureHook(fn func(err error)) Option {
	return func(l *Limiter) { l.onStoreFailure = fn }
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		clock:    security.SystemClock{},
		timeout:  250 * time.Millisecond,
		policy:   FailDeny,
		fallback: newLocalFallback(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request against key. A non-positive limit disables the check.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	now := l.clock.Now()
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	windowStart := now.Truncate(window)
	resetAt := windowStart.Add(window)

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	count, err := l.store.Increment(storeCtx, key, windowStart, window)
	if err != nil {
		return l.degraded(key, limit, window, now, resetAt, err)
	}

	decision := Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = resetAt.Sub(now)
	}
	return decision
}

func (l *Limiter) degraded(key string, limit int, window time.Duration, now time.Time, resetAt time.Time, err error) Decision {
	if l.onStoreFailure != nil {
		l.onStoreFailure(err)
	}
	slog.Warn("rate limit store unavailable", "policy", string(l.policy), "error", err)

	if l.policy == FailLocal {
		return l.fallback.allow(key, limit, window, now)
	}

	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: resetAt.Sub(now),
		Degraded:   true,
	}
}
