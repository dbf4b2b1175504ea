package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"task-management-api/internal/model"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db      pinger
	version string
}

// NewHealthHandler reports database reachability when db is non-nil.
func NewHealthHandler(db pinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := model.HealthStatus{Status: "ok", Version: h.version, Database: "memory"}
	code := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status.Database = "up"
		if err := h.db.Ping(ctx); err != nil {
			slog.Warn("health check: database unreachable", "error", err)
			status.Status = "degraded"
			status.Database = "down"
			code = http.StatusServiceUnavailable
		}
	}

	writeSuccess(w, code, status, nil)
}
