package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"task-management-api/internal/model"
)

type tokenValidator interface {
	VerifyAccessSession(ctx context.Context, token string) (model.AccessClaims, error)
}

type contextKey string

const authClaimsContextKey contextKey = "auth_claims"

type AuthMiddleware struct {
	validator tokenValidator
}

func NewAuthMiddleware(validator tokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			writeUnauthorized(w, "UNAUTHORIZED", "missing or invalid authorization header")
			return
		}

		token := strings.TrimSpace(header[7:])
		claims, err := m.validator.VerifyAccessSession(r.Context(), token)
		if err != nil {
			code, message, ok := tokenFailure(err)
			if !ok {
				slog.Error("access token check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "authentication temporarily unavailable")
				return
			}
			slog.Warn("access token rejected", "code", code, "client_ip", extractClientIP(r))
			writeUnauthorized(w, code, message)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

func tokenFailure(err error) (code string, message string, ok bool) {
	switch {
	case errors.Is(err, model.ErrExpiredToken):
		return "TOKEN_EXPIRED", "token expired", true
	case errors.Is(err, model.ErrWrongTokenKind):
		return "WRONG_TOKEN_KIND", "access token required", true
	case errors.Is(err, model.ErrSessionRevoked):
		return "SESSION_REVOKED", "session has been revoked", true
	case errors.Is(err, model.ErrInvalidSignature):
		return "INVALID_TOKEN", "invalid token", true
	default:
		return "", "", false
	}
}

func ContextWithClaims(ctx context.Context, claims model.AccessClaims) context.Context {
	return context.WithValue(ctx, authClaimsContextKey, claims)
}

func ClaimsFromContext(ctx context.Context) (model.AccessClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(model.AccessClaims)
	return claims, ok
}

func writeUnauthorized(w http.ResponseWriter, code string, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	writeJSON(w, http.StatusUnauthorized, code, message)
}

func writeJSON(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    code,
			Message: message,
		},
	})
}
