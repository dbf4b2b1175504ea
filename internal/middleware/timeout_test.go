package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-management-api/internal/model"
)

func TestTimeout(t *testing.T) {
	t.Parallel()

	t.Run("slow handler gets the error envelope", func(t *testing.T) {
		t.Parallel()

		slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		})

		rec := httptest.NewRecorder()
		Timeout(20*time.Millisecond)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body model.APIResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotNil(t, body.Error)
		assert.Equal(t, "REQUEST_TIMEOUT", body.Error.Code)
	})

	t.Run("fast handler passes through", func(t *testing.T) {
		t.Parallel()

		fast := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		rec := httptest.NewRecorder()
		Timeout(time.Second)(fast).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("Content-Type"))
	})

	t.Run("handler 503 keeps its own content type", func(t *testing.T) {
		t.Parallel()

		down := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		rec := httptest.NewRecorder()
		Timeout(time.Second)(down).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	})
}
