package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	burst    int
	lastSeen time.Time
}

// localFallback decides with per-key token buckets while the shared store is
// down. Each process then enforces the limit on its own share of traffic.
type localFallback struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLocalFallback() *localFallback {
	return &localFallback{buckets: map[string]*bucket{}}
}

func (f *localFallback) allow(key string, limit int, window time.Duration, now time.Time) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.buckets[key]
	if !ok || b.burst != limit {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
			burst:   limit,
		}
		f.buckets[key] = b
	}
	b.lastSeen = now
	f.gcLocked(now, window)

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(b.limiter.TokensAt(now))
	interval := window / time.Duration(limit)

	decision := Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(remaining, 0),
		ResetAt:   now.Add(interval),
		Degraded:  true,
	}
	if !allowed {
		decision.RetryAfter = interval
	}
	return decision
}

func (f *localFallback) gcLocked(now time.Time, window time.Duration) {
	if len(f.buckets) < 1000 {
		return
	}

	cutoff := now.Add(-10 * window)
	for key, b := range f.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(f.buckets, key)
		}
	}
}
