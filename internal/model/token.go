package model

import (
	"time"
)

// TokenKind tags every credential the service hands out.
type TokenKind string

const (
	KindAccess        TokenKind = "access"
	KindRefresh       TokenKind = "refresh"
	KindEmailVerify   TokenKind = "email_verify"
	KindPasswordReset TokenKind = "password_reset"
)

// MaxTTL is the upper bound on the lifetime of a token of kind k.
func (k TokenKind) MaxTTL() time.Duration {
	switch k {
	case KindAccess:
		return 15 * time.Minute
	case KindRefresh:
		return 7 * 24 * time.Hour
	case KindEmailVerify:
		return 24 * time.Hour
	case KindPasswordReset:
		return time.Hour
	default:
		return 0
	}
}

// ClampTTL returns ttl bounded by the kind's maximum. A non-positive ttl means
// the maximum.
func (k TokenKind) ClampTTL(ttl time.Duration) time.Duration {
	maxTTL := k.MaxTTL()
	if ttl <= 0 || ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

// Session backs one refresh token. Superseded, revoked and expired are terminal.
type Session struct {
	ID           string    `json:"jti"`
	UserID       string    `json:"user_id"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Revoked      bool      `json:"revoked"`
	SupersededBy string    `json:"superseded_by,omitempty"`
}

type SessionState string

const (
	SessionActive     SessionState = "active"
	SessionSuperseded SessionState = "superseded"
	SessionRevoked    SessionState = "revoked"
	SessionExpired    SessionState = "expired"
)

// State derives the lifecycle state at now. Revocation wins over supersession so
// that a replay cascade is visible on rotated sessions too.
func (s Session) State(now time.Time) SessionState {
	switch {
	case s.Revoked:
		return SessionRevoked
	case s.SupersededBy != "":
		return SessionSuperseded
	case !now.Before(s.ExpiresAt):
		return SessionExpired
	default:
		return SessionActive
	}
}

// OneTimeToken is the stored half of an email-verify or password-reset secret.
type OneTimeToken struct {
	ID        string    `json:"id"`
	TokenHash string    `json:"-"`
	Purpose   TokenKind `json:"purpose"`
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// AccessClaims is what a verified access token tells the rest of the service.
type AccessClaims struct {
	UserID    string    `json:"sub"`
	SessionID string    `json:"sid"`
	TokenID   string    `json:"jti"`
	ExpiresAt time.Time `json:"exp"`
}

// RefreshClaims identifies the session behind a refresh token.
type RefreshClaims struct {
	UserID    string    `json:"sub"`
	SessionID string    `json:"jti"`
	ExpiresAt time.Time `json:"exp"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
