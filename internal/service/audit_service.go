package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"task-management-api/internal/model"
	"task-management-api/internal/security"
	"task-management-api/pkg/apierror"
)

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

// AuthEventRecorder is notified of every audited outcome, typically a metrics
// collector.
type AuthEventRecorder interface {
	RecordAuthEvent(action, status string)
}

type AuditService struct {
	store    AuditStore
	clock    security.Clock
	timeout  time.Duration
	recorder AuthEventRecorder
}

func NewAuditService(store AuditStore, clock security.Clock, timeout time.Duration, recorder AuthEventRecorder) *AuditService {
	if clock == nil {
		clock = security.SystemClock{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &AuditService{store: store, clock: clock, timeout: timeout, recorder: recorder}
}

// Log records an outcome. Failing to write the audit trail never fails the
// request that produced it.
func (s *AuditService) Log(ctx context.Context, action string, actor model.AuditActor, cause error) {
	if s == nil {
		return
	}

	entry := model.AuditEntry{
		Action:     action,
		OccurredAt: s.clock.Now().UTC(),
		Actor:      actor,
		Status:     model.AuditStatusSuccess,
	}
	if cause != nil {
		entry.Status = model.AuditStatusFailure
		entry.Error = auditErrorCode(cause)
	}

	if s.recorder != nil {
		s.recorder.RecordAuthEvent(action, entry.Status)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.store.Log(writeCtx, entry); err != nil {
		slog.Warn("audit write failed", "action", action, "status", entry.Status, "error", err)
	}
}

// ListForUser returns the caller's own audit trail, newest first.
func (s *AuditService) ListForUser(ctx context.Context, userID string, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query.ActorID = userID
	return s.store.Query(ctx, query)
}

// auditErrorCode stores a stable code, never the error text, which may quote
// user input.
func auditErrorCode(err error) string {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, model.ErrExpiredToken):
		return "TOKEN_EXPIRED"
	case errors.Is(err, model.ErrInvalidSignature):
		return "INVALID_TOKEN"
	case errors.Is(err, model.ErrWrongTokenKind):
		return "WRONG_TOKEN_KIND"
	case errors.Is(err, model.ErrReplayDetected), errors.Is(err, model.ErrSessionRevoked):
		return "SESSION_REVOKED"
	case errors.Is(err, model.ErrTokenNotFound):
		return "TOKEN_NOT_FOUND"
	case errors.Is(err, model.ErrTokenExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, model.ErrTokenAlreadyUsed):
		return "TOKEN_ALREADY_USED"
	case errors.Is(err, model.ErrRateLimitExceeded):
		return "RATE_LIMITED"
	case errors.Is(err, model.ErrUserAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, model.ErrUnauthorized):
		return "UNAUTHORIZED"
	default:
		return "INTERNAL_ERROR"
	}
}
