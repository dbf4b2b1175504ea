package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"task-management-api/internal/model"
)

// Timeout cancels the request context after timeout and answers 503 with the
// usual error envelope if the handler has not written by then.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	body, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: "REQUEST_TIMEOUT", Message: "request timed out"},
	})

	return func(next http.Handler) http.Handler {
		limited := http.TimeoutHandler(next, timeout, string(body))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &timeoutWriter{ResponseWriter: w}
			limited.ServeHTTP(tw, r)
			if tw.timedOut {
				slog.Warn("request timed out", "method", r.Method, "path", r.URL.Path, "timeout", timeout)
			}
		})
	}
}

// timeoutWriter marks the response http.TimeoutHandler writes on expiry, which
// is the only 503 that reaches it without a Content-Type.
type timeoutWriter struct {
	http.ResponseWriter
	timedOut bool
}

func (w *timeoutWriter) WriteHeader(statusCode int) {
	if statusCode == http.StatusServiceUnavailable && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
		w.timedOut = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}
