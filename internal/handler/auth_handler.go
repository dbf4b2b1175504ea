package handler

import (
	"net/http"

	"task-management-api/internal/middleware"
	"task-management-api/internal/model"
	"task-management-api/internal/service"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	result, err := h.service.Register(r.Context(), payload, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, result, nil)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	tokens, err := h.service.Login(r.Context(), payload.Username, payload.Password, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens, nil)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), payload.RefreshToken, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens, nil)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	var payload model.RefreshRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	if err := h.service.Logout(r.Context(), claims, payload.RefreshToken, actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var payload model.EmailRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), payload.Email, actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, model.MessageData{Message: "If the address is registered, a reset link is on its way"}, nil)
}

func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var payload model.PasswordResetConfirmRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), payload.Token, payload.NewPassword, actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.MessageData{Message: "Password updated; sign in again"}, nil)
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var payload model.VerifyEmailRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	user, err := h.service.VerifyEmail(r.Context(), payload.Token, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var payload model.EmailRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	if err := h.service.ResendVerification(r.Context(), payload.Email, actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, model.MessageData{Message: "If the address is awaiting verification, a new link is on its way"}, nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	user, err := h.service.Me(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	var payload model.ChangePasswordRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	err := h.service.ChangePassword(r.Context(), claims.UserID, payload.CurrentPassword, payload.NewPassword, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.MessageData{Message: "Password changed; sign in again"}, nil)
}
