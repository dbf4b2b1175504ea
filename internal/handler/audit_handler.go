package handler

import (
	"net/http"
	"strconv"
	"strings"

	"task-management-api/internal/middleware"
	"task-management-api/internal/model"
	"task-management-api/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List returns the caller's own security events.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	query := r.URL.Query()
	items, meta, err := h.service.ListForUser(r.Context(), claims.UserID, model.AuditQuery{
		Action: strings.TrimSpace(query.Get("action")),
		Status: strings.ToLower(strings.TrimSpace(query.Get("status"))),
		Page:   parseIntOrDefault(query.Get("page"), 1),
		Limit:  parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.AuditListData{Items: items}, &meta)
}

func parseIntOrDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}
