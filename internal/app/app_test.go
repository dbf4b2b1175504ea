package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-management-api/internal/config"
	"task-management-api/internal/model"
)

var linkToken = regexp.MustCompile(`token=([0-9a-f]{64})`)

type captureSender struct {
	sent chan model.EmailMessage
}

func (s *captureSender) Send(_ context.Context, msg model.EmailMessage) error {
	s.sent <- msg
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:              "0",
		RequestTimeout:          5 * time.Second,
		JWTSecret:               "0123456789abcdef0123456789abcdef",
		JWTIssuer:               "task-management-api-test",
		JWTAccessTTL:            15 * time.Minute,
		JWTRefreshTTL:           24 * time.Hour,
		EmailVerifyTTL:          24 * time.Hour,
		PasswordResetTTL:        time.Hour,
		BcryptCost:              4,
		PasswordMinLength:       3,
		RateLimitPerMinute:      100,
		AuthRateLimitPerMinute:  100,
		LoginAttemptsPerAccount: 10,
		RateLimitWindow:         time.Minute,
		RateLimitStore:          "memory",
		RateLimitStoreTimeout:   250 * time.Millisecond,
		RateLimitFailurePolicy:  "deny",
		StoreTimeout:            3 * time.Second,
		StoreReadRetries:        2,
		StoreRetryBase:          25 * time.Millisecond,
		MailDriver:              "log",
		MailSendTimeout:         5 * time.Second,
		AppBaseURL:              "http://app.test/",
		CleanupInterval:         time.Hour,
		MetricsEnabled:          true,
		LogFormat:               "pretty",
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

type client struct {
	t   *testing.T
	url string
}

func (c client) do(method string, path string, bearer string, body any) (*http.Response, envelope) {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.url+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	var env envelope
	if len(raw) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(c.t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func newTestServer(t *testing.T, cfg *config.Config) (client, *captureSender) {
	t.Helper()

	sender := &captureSender{sent: make(chan model.EmailMessage, 10)}
	a, err := New(context.Background(), cfg, WithMailSender(sender))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	server := httptest.NewServer(a.Handler())
	t.Cleanup(server.Close)

	return client{t: t, url: server.URL}, sender
}

func nextSecret(t *testing.T, sender *captureSender, kind model.TokenKind) string {
	t.Helper()

	select {
	case msg := <-sender.sent:
		require.Equal(t, string(kind), msg.Kind)
		match := linkToken.FindStringSubmatch(msg.Body)
		require.Len(t, match, 2, msg.Body)
		return match[1]
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s mail delivered", kind)
		return ""
	}
}

func TestEndToEndRegisterVerifyLoginRotate(t *testing.T) {
	api, sender := newTestServer(t, testConfig())

	resp, env := api.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "a@x.com", "username": "alice", "password": "pw1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var registered model.RegisterResult
	require.NoError(t, json.Unmarshal(env.Data, &registered))
	assert.Equal(t, "alice", registered.User.Username)
	assert.False(t, registered.User.IsVerified)
	assert.Nil(t, registered.Tokens)

	secret := nextSecret(t, sender, model.KindEmailVerify)

	resp, env = api.do(http.MethodPost, "/api/v1/auth/verify-email", "", map[string]string{"token": secret})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verified model.AuthUser
	require.NoError(t, json.Unmarshal(env.Data, &verified))
	assert.True(t, verified.IsVerified)

	resp, env = api.do(http.MethodPost, "/api/v1/auth/verify-email", "", map[string]string{"token": secret})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "TOKEN_ALREADY_USED", env.Error.Code)

	resp, env = api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "pw1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first model.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.Equal(t, "bearer", first.TokenType)

	resp, env = api.do(http.MethodGet, "/api/v1/auth/me", first.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me model.AuthUser
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, registered.User.ID, me.ID)

	resp, env = api.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": first.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second model.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	resp, env = api.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": first.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "SESSION_REVOKED", env.Error.Code)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")

	// the replay revoked the whole family, the rotated pair included
	resp, _ = api.do(http.MethodGet, "/api/v1/auth/me", second.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = api.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": second.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEndToEndPasswordReset(t *testing.T) {
	api, sender := newTestServer(t, testConfig())

	resp, _ := api.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "b@x.com", "username": "bob", "password": "old-pass",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	nextSecret(t, sender, model.KindEmailVerify)

	resp, env := api.do(http.MethodPost, "/api/v1/auth/password-reset/confirm", "", map[string]string{"token": "unknown", "new_password": "whatever"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "TOKEN_NOT_FOUND", env.Error.Code)

	resp, _ = api.do(http.MethodPost, "/api/v1/auth/password-reset/request", "", map[string]string{"email": "nobody@x.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = api.do(http.MethodPost, "/api/v1/auth/password-reset/request", "", map[string]string{"email": "b@x.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	secret := nextSecret(t, sender, model.KindPasswordReset)

	resp, _ = api.do(http.MethodPost, "/api/v1/auth/password-reset/confirm", "", map[string]string{"token": secret, "new_password": "new-pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "bob", "password": "old-pass"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	resp, _ = api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "bob", "password": "new-pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEndToEndRateLimitAndSurfaces(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRateLimitPerMinute = 2
	cfg.RateLimitWindow = time.Hour
	api, _ := newTestServer(t, cfg)

	for range 2 {
		resp, _ := api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "ghost", "password": "nope"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	}

	resp, env := api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "ghost", "password": "nope"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	resp, env = api.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health model.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "memory", health.Database)

	resp, _ = api.do(http.MethodGet, "/api/v1/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	metricsResp, err := http.Get(api.url + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	assert.Contains(t, string(body), `taskapi_rate_limit_decisions_total{group="auth",result="denied"} 1`)
}
