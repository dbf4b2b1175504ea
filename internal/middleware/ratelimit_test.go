package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"task-management-api/internal/model"
	"task-management-api/internal/ratelimit"
	"task-management-api/internal/security"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordRateLimit(group string, allowed bool, degraded bool) {
	m.Called(group, allowed, degraded)
}

type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) Log(ctx context.Context, action string, actor model.AuditActor, cause error) {
	m.Called(action, actor, cause)
}

type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Time, time.Duration) (int, error) {
	return 0, errors.New("connection refused")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, method string, path string, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":41000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitMiddleware_Group(t *testing.T) {
	t.Parallel()

	clock := security.NewManualClock(epoch)
	mw := NewRateLimitMiddleware(ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithClock(clock)), time.Minute, nil, nil)
	handler := mw.Group("auth", 2)(okHandler())

	for i := range 2 {
		rec := serve(handler, http.MethodPost, "/api/v1/auth/login", "10.0.0.1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(1-i), rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, strconv.FormatInt(epoch.Add(time.Minute).Unix(), 10), rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := serve(handler, http.MethodPost, "/api/v1/auth/login", "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)

	// another client has its own budget
	require.Equal(t, http.StatusOK, serve(handler, http.MethodPost, "/api/v1/auth/login", "10.0.0.2").Code)

	clock.Advance(time.Minute)
	require.Equal(t, http.StatusOK, serve(handler, http.MethodPost, "/api/v1/auth/login", "10.0.0.1").Code)
}

func TestRateLimitMiddleware_GroupsAreIndependent(t *testing.T) {
	t.Parallel()

	clock := security.NewManualClock(epoch)
	mw := NewRateLimitMiddleware(ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithClock(clock)), time.Minute, nil, nil)
	auth := mw.Group("auth", 1)(okHandler())
	general := mw.Group("general", 5)(okHandler())

	require.Equal(t, http.StatusOK, serve(auth, http.MethodPost, "/login", "10.0.0.1").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(auth, http.MethodPost, "/login", "10.0.0.1").Code)
	require.Equal(t, http.StatusOK, serve(general, http.MethodGet, "/me", "10.0.0.1").Code)
}

func TestRateLimitMiddleware_IgnoresClaims(t *testing.T) {
	t.Parallel()

	clock := security.NewManualClock(epoch)
	mw := NewRateLimitMiddleware(ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithClock(clock)), time.Minute, nil, nil)
	inner := mw.Group("general", 1)(okHandler())

	as := func(userID string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ContextWithClaims(r.Context(), model.AccessClaims{UserID: userID})
			inner.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	require.Equal(t, http.StatusOK, serve(as("u1"), http.MethodGet, "/me", "10.0.0.1").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(as("u2"), http.MethodGet, "/me", "10.0.0.1").Code)
	require.Equal(t, http.StatusOK, serve(as("u1"), http.MethodGet, "/me", "10.0.0.9").Code)
}

func TestRateLimitMiddleware_SpoofedForwardingHeaders(t *testing.T) {
	t.Parallel()

	clock := security.NewManualClock(epoch)
	mw := NewRateLimitMiddleware(ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithClock(clock)), time.Minute, nil, nil)
	handler := ClientAddress(nil)(mw.Group("auth", 2)(okHandler()))

	codes := make([]int, 0, 6)
	for i := range 6 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/password-reset/request", nil)
		req.RemoteAddr = "192.0.2.10:41000"
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i+1))
		req.Header.Set("X-Real-IP", "198.51.100."+strconv.Itoa(i+1))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{200, 200, 429, 429, 429, 429}, codes)
}

func TestRateLimitMiddleware_StoreFailureDenies(t *testing.T) {
	t.Parallel()

	recorder := &mockRecorder{}
	recorder.On("RecordRateLimit", "auth", false, true).Once()
	auditor := &mockAuditor{}
	auditor.On("Log", model.AuditRateLimited, model.AuditActor{IP: "10.0.0.1"}, model.ErrRateLimitExceeded).Once()

	limiter := ratelimit.New(brokenStore{}, ratelimit.WithClock(security.NewManualClock(epoch.Add(15*time.Second))))
	handler := NewRateLimitMiddleware(limiter, time.Minute, recorder, auditor).Group("auth", 10)(okHandler())

	rec := serve(handler, http.MethodPost, "/login", "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "45", rec.Header().Get("Retry-After"))

	recorder.AssertExpectations(t)
	auditor.AssertExpectations(t)
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	mw := NewRateLimitMiddleware(ratelimit.New(brokenStore{}), 0, nil, nil)
	handler := mw.Group("general", 0)(okHandler())

	for range 10 {
		rec := serve(handler, http.MethodGet, "/api/v1/auth/me", "10.0.0.1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, RetryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 60, RetryAfterSeconds(time.Minute))
}

func TestClientAddress(t *testing.T) {
	t.Parallel()

	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name      string
		trusted   []netip.Prefix
		remote    string
		forwarded []string
		realIP    string
		want      string
	}{
		{name: "direct peer", remote: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "untrusted peer ignores headers", remote: "192.0.2.1:5555", forwarded: []string{"203.0.113.9"}, realIP: "198.51.100.4", want: "192.0.2.1"},
		{name: "no proxies configured", trusted: nil, remote: "10.0.0.5:5555", forwarded: []string{"203.0.113.9"}, want: "10.0.0.5"},
		{name: "trusted proxy appends client", trusted: proxies, remote: "10.0.0.5:5555", forwarded: []string{"203.0.113.9"}, want: "203.0.113.9"},
		{name: "spoofed leftmost hop", trusted: proxies, remote: "10.0.0.5:5555", forwarded: []string{"1.2.3.4, 203.0.113.9"}, want: "203.0.113.9"},
		{name: "chained proxies", trusted: proxies, remote: "10.0.0.5:5555", forwarded: []string{"203.0.113.9", "10.1.1.1"}, want: "203.0.113.9"},
		{name: "malformed hop", trusted: proxies, remote: "10.0.0.5:5555", forwarded: []string{"not-an-ip"}, want: "10.0.0.5"},
		{name: "real ip from trusted proxy", trusted: proxies, remote: "10.0.0.5:5555", realIP: "198.51.100.4", want: "198.51.100.4"},
		{name: "mapped ipv4", remote: "[::ffff:192.0.2.7]:5555", want: "192.0.2.7"},
		{name: "empty remote", remote: "", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			var got string
			ClientAddress(tt.trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}
