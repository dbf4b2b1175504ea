package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"task-management-api/internal/model"
	"task-management-api/internal/security"
)

const minSecretLength = 32

type SessionStore interface {
	Create(ctx context.Context, session model.Session) error
	Get(ctx context.Context, id string) (model.Session, error)
	Supersede(ctx context.Context, oldID string, next model.Session, now time.Time) error
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	sessions   SessionStore
	clock      security.Clock
	retry      RetryPolicy
}

type tokenClaims struct {
	Kind      model.TokenKind `json:"typ"`
	SessionID string          `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

func NewTokenService(cfg TokenConfig, sessions SessionStore, clock security.Clock, retry RetryPolicy) (*TokenService, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLength)
	}
	if clock == nil {
		clock = security.SystemClock{}
	}

	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  model.KindAccess.ClampTTL(cfg.AccessTTL),
		refreshTTL: model.KindRefresh.ClampTTL(cfg.RefreshTTL),
		sessions:   sessions,
		clock:      clock,
		retry:      retry,
	}, nil
}

// Issue starts a new session for userID and returns its token pair.
func (s *TokenService) Issue(ctx context.Context, userID string) (model.TokenPair, error) {
	now := s.clock.Now()
	session := model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}

	pair, err := s.sign(session)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := mutate(ctx, s.retry, func(ctx context.Context) error {
		return s.sessions.Create(ctx, session)
	}); err != nil {
		return model.TokenPair{}, fmt.Errorf("create session: %w", err)
	}

	return pair, nil
}

// VerifyAccess checks signature, expiry and kind without touching the store.
func (s *TokenService) VerifyAccess(token string) (model.AccessClaims, error) {
	claims, err := s.parse(token, model.KindAccess)
	if err != nil {
		return model.AccessClaims{}, err
	}

	return model.AccessClaims{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// VerifyAccessSession is VerifyAccess plus a check that the session the token
// was minted with has not been revoked.
func (s *TokenService) VerifyAccessSession(ctx context.Context, token string) (model.AccessClaims, error) {
	claims, err := s.VerifyAccess(token)
	if err != nil {
		return model.AccessClaims{}, err
	}

	session, err := readWithRetry(ctx, s.retry, func(ctx context.Context) (model.Session, error) {
		return s.sessions.Get(ctx, claims.SessionID)
	})
	if errors.Is(err, model.ErrSessionNotFound) {
		return model.AccessClaims{}, model.ErrSessionRevoked
	}
	if err != nil {
		return model.AccessClaims{}, fmt.Errorf("load session: %w", err)
	}
	if session.Revoked || session.UserID != claims.UserID {
		return model.AccessClaims{}, model.ErrSessionRevoked
	}

	return claims, nil
}

func (s *TokenService) ParseRefresh(token string) (model.RefreshClaims, error) {
	claims, err := s.parse(token, model.KindRefresh)
	if err != nil {
		return model.RefreshClaims{}, err
	}

	return model.RefreshClaims{
		UserID:    claims.Subject,
		SessionID: claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Rotate exchanges a refresh token for a new pair. Presenting a token whose
// session is missing, revoked or already rotated revokes every session of the
// owner and fails with a *model.ReplayError.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	claims, err := s.ParseRefresh(refreshToken)
	if err != nil {
		return model.TokenPair{}, err
	}

	now := s.clock.Now()
	next := model.Session{
		ID:        uuid.NewString(),
		UserID:    claims.UserID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}

	pair, err := s.sign(next)
	if err != nil {
		return model.TokenPair{}, err
	}

	err = mutate(ctx, s.retry, func(ctx context.Context) error {
		return s.sessions.Supersede(ctx, claims.SessionID, next, now)
	})
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, model.ErrSessionNotActive) {
		return model.TokenPair{}, fmt.Errorf("rotate session: %w", err)
	}

	old, lookupErr := readWithRetry(ctx, s.retry, func(ctx context.Context) (model.Session, error) {
		return s.sessions.Get(ctx, claims.SessionID)
	})
	switch {
	case lookupErr == nil && old.State(now) == model.SessionExpired:
		return model.TokenPair{}, model.ErrExpiredToken
	case lookupErr != nil && !errors.Is(lookupErr, model.ErrSessionNotFound):
		return model.TokenPair{}, fmt.Errorf("classify session: %w", lookupErr)
	}

	s.revokeAfterReplay(ctx, claims.UserID, now)
	return model.TokenPair{}, &model.ReplayError{UserID: claims.UserID}
}

func (s *TokenService) Revoke(ctx context.Context, sessionID string) error {
	now := s.clock.Now()
	if err := mutate(ctx, s.retry, func(ctx context.Context) error {
		return s.sessions.Revoke(ctx, sessionID, now)
	}); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *TokenService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	now := s.clock.Now()
	var revoked int64
	err := mutate(ctx, s.retry, func(ctx context.Context) error {
		n, err := s.sessions.RevokeAllForUser(ctx, userID, now)
		revoked = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	return revoked, nil
}

func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// revokeAfterReplay must finish even if the client that presented the stolen
// token has gone away.
func (s *TokenService) revokeAfterReplay(ctx context.Context, userID string, now time.Time) {
	detached := context.WithoutCancel(ctx)
	n, err := s.RevokeAll(detached, userID)
	if err != nil {
		slog.Error("replay cascade revoke failed", "user_id", userID, "error", err)
		return
	}
	slog.Warn("refresh token replay detected; sessions revoked", "user_id", userID, "revoked", n, "at", now)
}

func (s *TokenService) sign(session model.Session) (model.TokenPair, error) {
	access := tokenClaims{
		Kind:      model.KindAccess,
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   session.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.IssuedAt.Add(s.accessTTL)),
		},
	}
	refresh := tokenClaims{
		Kind: model.KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   session.UserID,
			ID:        session.ID,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(s.secret)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(s.secret)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

func (s *TokenService) parse(token string, want model.TokenKind) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, model.ErrExpiredToken
	}
	if err != nil {
		return nil, model.ErrInvalidSignature
	}

	if err := checkKind(claims, want); err != nil {
		return nil, err
	}
	return claims, nil
}

// checkKind holds the per-kind claim rules.
func checkKind(claims *tokenClaims, want model.TokenKind) error {
	switch claims.Kind {
	case model.KindAccess:
		if claims.Subject == "" || claims.SessionID == "" {
			return model.ErrInvalidSignature
		}
	case model.KindRefresh:
		if claims.Subject == "" || claims.ID == "" {
			return model.ErrInvalidSignature
		}
	case model.KindEmailVerify, model.KindPasswordReset:
		// single-use secrets are never minted as JWTs
		return model.ErrWrongTokenKind
	default:
		return model.ErrWrongTokenKind
	}

	if claims.Kind != want {
		return model.ErrWrongTokenKind
	}
	return nil
}
