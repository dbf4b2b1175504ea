package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"task-management-api/internal/middleware"
	"task-management-api/internal/model"
	"task-management-api/pkg/apierror"
)

const maxBodyBytes = 1 << 20

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// decodeJSON reads a bounded JSON body into dst. It answers the request itself
// and returns false when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	var limited *model.RateLimitError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	} else if errors.As(err, &limited) {
		status = http.StatusTooManyRequests
		body.Code = "RATE_LIMITED"
		body.Message = "Too many requests"
		w.Header().Set("Retry-After", strconv.Itoa(middleware.RetryAfterSeconds(limited.RetryAfter)))
	} else if errors.Is(err, model.ErrRateLimitExceeded) {
		status = http.StatusTooManyRequests
		body.Code = "RATE_LIMITED"
		body.Message = "Too many requests"
	} else if errors.Is(err, model.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Invalid credentials"
	} else if errors.Is(err, model.ErrExpiredToken) {
		status = http.StatusUnauthorized
		body.Code = "TOKEN_EXPIRED"
		body.Message = "Token expired"
	} else if errors.Is(err, model.ErrInvalidSignature) {
		status = http.StatusUnauthorized
		body.Code = "INVALID_TOKEN"
		body.Message = "Invalid token"
	} else if errors.Is(err, model.ErrWrongTokenKind) {
		status = http.StatusUnauthorized
		body.Code = "WRONG_TOKEN_KIND"
		body.Message = "Wrong token kind"
	} else if errors.Is(err, model.ErrReplayDetected) || errors.Is(err, model.ErrSessionRevoked) {
		status = http.StatusUnauthorized
		body.Code = "SESSION_REVOKED"
		body.Message = "Session has been revoked"
	} else if errors.Is(err, model.ErrUnauthorized) {
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Authentication required"
	} else if errors.Is(err, model.ErrTokenNotFound) {
		status = http.StatusBadRequest
		body.Code = "TOKEN_NOT_FOUND"
		body.Message = "Token is invalid"
	} else if errors.Is(err, model.ErrTokenExpired) {
		status = http.StatusBadRequest
		body.Code = "TOKEN_EXPIRED"
		body.Message = "Token has expired"
	} else if errors.Is(err, model.ErrTokenAlreadyUsed) {
		status = http.StatusBadRequest
		body.Code = "TOKEN_ALREADY_USED"
		body.Message = "Token has already been used"
	} else if errors.Is(err, model.ErrUserNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "User not found"
	} else if errors.Is(err, model.ErrUserAlreadyExists) {
		status = http.StatusConflict
		body.Code = "ALREADY_EXISTS"
		body.Message = "User already exists"
	} else if errors.Is(err, model.ErrInvalidInput) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
	} else {
		// Log unclassified errors so they are visible in container logs.
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}
