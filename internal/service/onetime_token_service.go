package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"task-management-api/internal/model"
	"task-management-api/internal/security"
)

type OneTimeTokenStore interface {
	Create(ctx context.Context, token model.OneTimeToken, replacePrior bool) error
	Consume(ctx context.Context, tokenHash string, purpose model.TokenKind, now time.Time) (string, error)
	Find(ctx context.Context, tokenHash string, purpose model.TokenKind) (model.OneTimeToken, error)
}

// OneTimeTokenService hands out email-verify and password-reset secrets. Only
// the SHA-256 of a secret is stored.
type OneTimeTokenService struct {
	store OneTimeTokenStore
	clock security.Clock
	retry RetryPolicy
	ttl   map[model.TokenKind]time.Duration
}

func NewOneTimeTokenService(store OneTimeTokenStore, clock security.Clock, retry RetryPolicy, verifyTTL, resetTTL time.Duration) *OneTimeTokenService {
	if clock == nil {
		clock = security.SystemClock{}
	}

	return &OneTimeTokenService{
		store: store,
		clock: clock,
		retry: retry,
		ttl: map[model.TokenKind]time.Duration{
			model.KindEmailVerify:   model.KindEmailVerify.ClampTTL(verifyTTL),
			model.KindPasswordReset: model.KindPasswordReset.ClampTTL(resetTTL),
		},
	}
}

// Issue stores a new secret next to any earlier ones. Password-reset secrets
// always replace unused predecessors.
func (s *OneTimeTokenService) Issue(ctx context.Context, userID string, purpose model.TokenKind) (string, error) {
	return s.issue(ctx, userID, purpose, purpose == model.KindPasswordReset)
}

// IssueReplacing invalidates every unused secret of the same purpose first.
func (s *OneTimeTokenService) IssueReplacing(ctx context.Context, userID string, purpose model.TokenKind) (string, error) {
	return s.issue(ctx, userID, purpose, true)
}

func (s *OneTimeTokenService) issue(ctx context.Context, userID string, purpose model.TokenKind, replace bool) (string, error) {
	ttl, ok := s.ttl[purpose]
	if !ok {
		return "", model.ErrWrongTokenKind
	}

	secret, hash, err := security.RandomToken()
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	token := model.OneTimeToken{
		ID:        uuid.NewString(),
		TokenHash: hash,
		Purpose:   purpose,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	if err := mutate(ctx, s.retry, func(ctx context.Context) error {
		return s.store.Create(ctx, token, replace)
	}); err != nil {
		return "", fmt.Errorf("store %s token: %w", purpose, err)
	}

	return secret, nil
}

// Redeem consumes secret and returns the user it was issued for. A secret can
// be redeemed at most once, even under concurrent calls.
func (s *OneTimeTokenService) Redeem(ctx context.Context, secret string, purpose model.TokenKind) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", model.ErrTokenNotFound
	}
	if _, ok := s.ttl[purpose]; !ok {
		return "", model.ErrWrongTokenKind
	}

	hash := security.HashToken(secret)
	now := s.clock.Now()

	var userID string
	err := mutate(ctx, s.retry, func(ctx context.Context) error {
		id, err := s.store.Consume(ctx, hash, purpose, now)
		userID = id
		return err
	})
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, model.ErrTokenNotFound) {
		return "", fmt.Errorf("consume %s token: %w", purpose, err)
	}

	token, err := readWithRetry(ctx, s.retry, func(ctx context.Context) (model.OneTimeToken, error) {
		return s.store.Find(ctx, hash, purpose)
	})
	switch {
	case errors.Is(err, model.ErrTokenNotFound):
		return "", model.ErrTokenNotFound
	case err != nil:
		return "", fmt.Errorf("find %s token: %w", purpose, err)
	case token.Used:
		return "", model.ErrTokenAlreadyUsed
	case !now.Before(token.ExpiresAt):
		return "", model.ErrTokenExpired
	default:
		return "", model.ErrTokenNotFound
	}
}
