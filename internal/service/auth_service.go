package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"task-management-api/internal/event"
	"task-management-api/internal/model"
	"task-management-api/internal/ratelimit"
	"task-management-api/internal/security"
	"task-management-api/pkg/apierror"
)

type UserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByLogin(ctx context.Context, login string) (model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, u model.User) error
	UpdatePassword(ctx context.Context, userID string, passwordHash string, at time.Time) error
	MarkVerified(ctx context.Context, userID string, at time.Time) error
}

type AttemptLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Decision
}

type ReplayRecorder interface {
	RecordReplay()
}

type AuthConfig struct {
	PasswordMinLength       int
	RegisterIssuesTokens    bool
	RequireVerifiedLogin    bool
	AppBaseURL              string
	LoginAttemptsPerAccount int
	LoginWindow             time.Duration
}

// AuthDeps are the collaborators of AuthService. Limiter and Replays may be nil.
type AuthDeps struct {
	Users   UserStore
	Tokens  *TokenService
	OneTime *OneTimeTokenService
	Hasher  security.PasswordHasher
	Audit   *AuditService
	Bus     event.Bus
	Limiter AttemptLimiter
	Replays ReplayRecorder
	Clock   security.Clock
	Retry   RetryPolicy
}

type AuthService struct {
	cfg     AuthConfig
	users   UserStore
	tokens  *TokenService
	oneTime *OneTimeTokenService
	hasher  security.PasswordHasher
	audit   *AuditService
	bus     event.Bus
	limiter AttemptLimiter
	replays ReplayRecorder
	clock   security.Clock
	retry   RetryPolicy
}

func NewAuthService(cfg AuthConfig, deps AuthDeps) (*AuthService, error) {
	if deps.Users == nil || deps.Tokens == nil || deps.OneTime == nil || deps.Hasher == nil {
		return nil, errors.New("auth service requires users, tokens, one-time tokens and a hasher")
	}
	if deps.Clock == nil {
		deps.Clock = security.SystemClock{}
	}
	if cfg.PasswordMinLength < 1 {
		cfg.PasswordMinLength = 8
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = time.Minute
	}

	return &AuthService{
		cfg:     cfg,
		users:   deps.Users,
		tokens:  deps.Tokens,
		oneTime: deps.OneTime,
		hasher:  deps.Hasher,
		audit:   deps.Audit,
		bus:     deps.Bus,
		limiter: deps.Limiter,
		replays: deps.Replays,
		clock:   deps.Clock,
		retry:   deps.Retry,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest, actor model.AuditActor) (result model.RegisterResult, err error) {
	defer func() { s.audit.Log(ctx, model.AuditRegister, actor, err) }()

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return model.RegisterResult{}, err
	}
	username, err := validateUsername(req.Username)
	if err != nil {
		return model.RegisterResult{}, err
	}
	if err = validatePassword(req.Password, s.cfg.PasswordMinLength); err != nil {
		return model.RegisterResult{}, err
	}
	fullName, err := sanitizeFullName(req.FullName)
	if err != nil {
		return model.RegisterResult{}, err
	}

	if err = s.ensureAvailable(ctx, email, username); err != nil {
		return model.RegisterResult{}, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.RegisterResult{}, err
	}

	now := s.clock.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		FullName:     fullName,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = mutate(ctx, s.retry, func(ctx context.Context) error {
		return s.users.Create(ctx, user)
	})
	if errors.Is(err, model.ErrUserAlreadyExists) {
		return model.RegisterResult{}, conflict("email or username already registered", "")
	}
	if err != nil {
		return model.RegisterResult{}, err
	}
	actor.UserID = user.ID

	secret, err := s.oneTime.Issue(ctx, user.ID, model.KindEmailVerify)
	if err != nil {
		return model.RegisterResult{}, err
	}
	s.queueMail(user, model.KindEmailVerify, secret)
	s.publish(event.TypeUserRegistered, user.ID, user.Public())

	result = model.RegisterResult{User: user.Public()}
	if s.cfg.RegisterIssuesTokens {
		pair, err := s.tokens.Issue(ctx, user.ID)
		if err != nil {
			return model.RegisterResult{}, err
		}
		result.Tokens = &pair
	}

	return result, nil
}

func (s *AuthService) ensureAvailable(ctx context.Context, email string, username string) error {
	taken, err := readWithRetry(ctx, s.retry, func(ctx context.Context) (bool, error) {
		return s.users.ExistsByEmail(ctx, email)
	})
	if err != nil {
		return err
	}
	if taken {
		return conflict("email already registered", "email")
	}

	taken, err = readWithRetry(ctx, s.retry, func(ctx context.Context) (bool, error) {
		return s.users.ExistsByUsername(ctx, username)
	})
	if err != nil {
		return err
	}
	if taken {
		return conflict("username already taken", "username")
	}
	return nil
}

// Login never tells the caller which check failed.
func (s *AuthService) Login(ctx context.Context, login string, password string, actor model.AuditActor) (pair model.TokenPair, err error) {
	defer func() {
		if err != nil {
			slog.Warn("login failed", "ip", actor.IP, "user_id", actor.UserID, "error", auditErrorCode(err))
		}
		s.audit.Log(ctx, model.AuditLogin, actor, err)
	}()

	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return model.TokenPair{}, apierror.Wrap(model.ErrInvalidInput, "BAD_REQUEST", "username and password are required", "", http.StatusBadRequest)
	}

	if err = s.checkAccountBudget(ctx, login); err != nil {
		return model.TokenPair{}, err
	}

	user, err := readWithRetry(ctx, s.retry, func(ctx context.Context) (model.User, error) {
		return s.users.FindByLogin(ctx, login)
	})
	if errors.Is(err, model.ErrUserNotFound) {
		s.hasher.VerifyDummy(password)
		return model.TokenPair{}, model.ErrInvalidCredentials
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	actor.UserID = user.ID

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return model.TokenPair{}, err
	}
	if !ok || !user.IsActive || (s.cfg.RequireVerifiedLogin && !user.IsVerified) {
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	return s.tokens.Issue(ctx, user.ID)
}

func (s *AuthService) checkAccountBudget(ctx context.Context, login string) error {
	if s.limiter == nil || s.cfg.LoginAttemptsPerAccount <= 0 {
		return nil
	}

	decision := s.limiter.Allow(ctx, "login:"+strings.ToLower(login), s.cfg.LoginAttemptsPerAccount, s.cfg.LoginWindow)
	if !decision.Allowed {
		return &model.RateLimitError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string, actor model.AuditActor) (pair model.TokenPair, err error) {
	defer func() { s.audit.Log(ctx, model.AuditRefresh, actor, err) }()

	if strings.TrimSpace(refreshToken) == "" {
		return model.TokenPair{}, apierror.Wrap(model.ErrInvalidInput, "BAD_REQUEST", "refresh_token is required", "refresh_token", http.StatusBadRequest)
	}
	if claims, parseErr := s.tokens.ParseRefresh(refreshToken); parseErr == nil {
		actor.UserID = claims.UserID
	}

	pair, err = s.tokens.Rotate(ctx, refreshToken)

	var replay *model.ReplayError
	if errors.As(err, &replay) {
		if s.replays != nil {
			s.replays.RecordReplay()
		}
		slog.Warn("refresh token replay", "user_id", replay.UserID, "ip", actor.IP)
		s.audit.Log(ctx, model.AuditReplayDetected, model.AuditActor{UserID: replay.UserID, IP: actor.IP}, err)
		s.publish(event.TypeReplayDetected, replay.UserID, nil)
	}

	return pair, err
}

// Logout ends the session behind refreshToken. A refresh token that already
// expired has nothing left to end.
func (s *AuthService) Logout(ctx context.Context, claims model.AccessClaims, refreshToken string, actor model.AuditActor) (err error) {
	actor.UserID = claims.UserID
	defer func() { s.audit.Log(ctx, model.AuditLogout, actor, err) }()

	if strings.TrimSpace(refreshToken) == "" {
		return apierror.Wrap(model.ErrInvalidInput, "BAD_REQUEST", "refresh_token is required", "refresh_token", http.StatusBadRequest)
	}

	refresh, err := s.tokens.ParseRefresh(refreshToken)
	if errors.Is(err, model.ErrExpiredToken) {
		return nil
	}
	if err != nil {
		return err
	}
	if refresh.UserID != claims.UserID {
		return model.ErrUnauthorized
	}

	return s.tokens.Revoke(ctx, refresh.SessionID)
}

// RequestPasswordReset succeeds whether or not the address belongs to anyone.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, actor model.AuditActor) (err error) {
	defer func() { s.audit.Log(ctx, model.AuditPasswordResetRequest, actor, err) }()

	email, err = normalizeEmail(email)
	if err != nil {
		return err
	}

	user, found, err := s.findByEmail(ctx, email)
	if err != nil || !found || !user.IsActive {
		return err
	}

	secret, err := s.oneTime.Issue(ctx, user.ID, model.KindPasswordReset)
	if err != nil {
		return err
	}
	s.queueMail(user, model.KindPasswordReset, secret)
	return nil
}

func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token string, newPassword string, actor model.AuditActor) (err error) {
	defer func() { s.audit.Log(ctx, model.AuditPasswordResetConfirm, actor, err) }()

	if err = validatePassword(newPassword, s.cfg.PasswordMinLength); err != nil {
		return err
	}

	userID, err := s.oneTime.Redeem(ctx, token, model.KindPasswordReset)
	if err != nil {
		slog.Warn("password reset redeem failed", "ip", actor.IP, "error", auditErrorCode(err))
		return err
	}
	actor.UserID = userID

	if _, err = s.loadUser(ctx, userID); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.ErrTokenNotFound
		}
		return err
	}

	return s.setPassword(ctx, userID, newPassword)
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string, actor model.AuditActor) (out model.AuthUser, err error) {
	defer func() { s.audit.Log(ctx, model.AuditEmailVerify, actor, err) }()

	userID, err := s.oneTime.Redeem(ctx, token, model.KindEmailVerify)
	if err != nil {
		return model.AuthUser{}, err
	}
	actor.UserID = userID

	user, err := s.loadUser(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthUser{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.AuthUser{}, err
	}

	if !user.IsVerified {
		now := s.clock.Now().UTC()
		if err = mutate(ctx, s.retry, func(ctx context.Context) error {
			return s.users.MarkVerified(ctx, userID, now)
		}); err != nil {
			return model.AuthUser{}, err
		}
		user.IsVerified = true
		s.publish(event.TypeUserVerified, userID, nil)
	}

	return user.Public(), nil
}

// ResendVerification replaces any outstanding verification link.
func (s *AuthService) ResendVerification(ctx context.Context, email string, actor model.AuditActor) (err error) {
	defer func() { s.audit.Log(ctx, model.AuditEmailResend, actor, err) }()

	email, err = normalizeEmail(email)
	if err != nil {
		return err
	}

	user, found, err := s.findByEmail(ctx, email)
	if err != nil || !found || user.IsVerified || !user.IsActive {
		return err
	}

	secret, err := s.oneTime.IssueReplacing(ctx, user.ID, model.KindEmailVerify)
	if err != nil {
		return err
	}
	s.queueMail(user, model.KindEmailVerify, secret)
	return nil
}

func (s *AuthService) Me(ctx context.Context, userID string) (model.AuthUser, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return model.AuthUser{}, err
	}
	return user.Public(), nil
}

// ChangePassword ends every session, including the one making the call.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, current string, next string, actor model.AuditActor) (err error) {
	actor.UserID = userID
	defer func() { s.audit.Log(ctx, model.AuditPasswordChange, actor, err) }()

	if current == "" {
		return invalidInput("current_password", "current_password is required")
	}
	if err = validatePassword(next, s.cfg.PasswordMinLength); err != nil {
		return err
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.Wrap(model.ErrInvalidCredentials, "INVALID_PASSWORD", "current password is incorrect", "current_password", http.StatusBadRequest)
	}

	return s.setPassword(ctx, userID, next)
}

func (s *AuthService) setPassword(ctx context.Context, userID string, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	if err := mutate(ctx, s.retry, func(ctx context.Context) error {
		return s.users.UpdatePassword(ctx, userID, hash, now)
	}); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if _, err := s.tokens.RevokeAll(ctx, userID); err != nil {
		return err
	}
	s.publish(event.TypePasswordChanged, userID, nil)
	return nil
}

func (s *AuthService) loadUser(ctx context.Context, userID string) (model.User, error) {
	return readWithRetry(ctx, s.retry, func(ctx context.Context) (model.User, error) {
		return s.users.FindByID(ctx, userID)
	})
}

func (s *AuthService) findByEmail(ctx context.Context, email string) (model.User, bool, error) {
	user, err := readWithRetry(ctx, s.retry, func(ctx context.Context) (model.User, error) {
		return s.users.FindByEmail(ctx, email)
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	return user, true, nil
}

func (s *AuthService) queueMail(user model.User, kind model.TokenKind, secret string) {
	base := strings.TrimRight(s.cfg.AppBaseURL, "/")

	var subject, path, intro string
	switch kind {
	case model.KindEmailVerify:
		subject, path = "Verify your email address", "/verify-email"
		intro = "Confirm your email address by opening the link below."
	case model.KindPasswordReset:
		subject, path = "Reset your password", "/reset-password"
		intro = "Someone asked to reset your password. If it was you, open the link below."
	default:
		return
	}

	link := base + path + "?token=" + url.QueryEscape(secret)
	body := fmt.Sprintf("Hello %s,\n\n%s\n\n%s\n\nThe link works once.\n", user.Username, intro, link)

	s.publish(event.TypeMailRequested, user.ID, model.EmailMessage{
		To:      user.Email,
		Subject: subject,
		Body:    body,
		Kind:    string(kind),
		UserID:  user.ID,
	})
}

func (s *AuthService) publish(t event.Type, actorID string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		Type:      t,
		Payload:   payload,
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actorID,
	})
}

func conflict(message string, field string) error {
	return apierror.Wrap(model.ErrUserAlreadyExists, "ALREADY_EXISTS", message, field, http.StatusConflict)
}
