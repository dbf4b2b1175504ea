package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"task-management-api/internal/model"
	"task-management-api/internal/ratelimit"
)

type requestLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Decision
}

type rateLimitRecorder interface {
	RecordRateLimit(group string, allowed bool, degraded bool)
}

type deniedAuditor interface {
	Log(ctx context.Context, action string, actor model.AuditActor, cause error)
}

type RateLimitMiddleware struct {
	limiter  requestLimiter
	window   time.Duration
	recorder rateLimitRecorder
	audit    deniedAuditor
}

// NewRateLimitMiddleware builds per-group gates over one limiter. recorder and
// audit may be nil.
func NewRateLimitMiddleware(limiter requestLimiter, window time.Duration, recorder rateLimitRecorder, audit deniedAuditor) *RateLimitMiddleware {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimitMiddleware{limiter: limiter, window: window, recorder: recorder, audit: audit}
}

// Group gates requests at limit per window, keyed by client IP. Mount it
// ahead of RequireAuth so rejected credentials still spend budget.
// A non-positive limit disables the gate.
func (m *RateLimitMiddleware) Group(name string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := model.AuditActor{IP: extractClientIP(r)}

			decision := m.limiter.Allow(r.Context(), name+":"+actor.IP, limit, m.window)
			if m.recorder != nil {
				m.recorder.RecordRateLimit(name, decision.Allowed, decision.Degraded)
			}
			SetRateLimitHeaders(w, decision)

			if !decision.Allowed {
				if m.audit != nil {
					m.audit.Log(r.Context(), model.AuditRateLimited, actor, model.ErrRateLimitExceeded)
				}
				WriteTooManyRequests(w, decision.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func SetRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// WriteTooManyRequests answers 429 with a Retry-After of at least one second.
func WriteTooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(retryAfter)))
	writeJSON(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
}

func RetryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}
