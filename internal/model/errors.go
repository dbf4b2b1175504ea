package model

import (
	"errors"
	"time"
)

var (
	// User related errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Bearer token errors
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrWrongTokenKind   = errors.New("wrong token kind")
	ErrReplayDetected   = errors.New("refresh token replay detected")
	ErrSessionRevoked   = errors.New("session revoked")

	// Session store errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session not active")

	// Single-use token errors
	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenAlreadyUsed = errors.New("token already used")

	// Rate limiting
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Permission/Access related errors
	ErrUnauthorized = errors.New("unauthorized")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)

// IsDomainError reports whether err is one of the sentinels above. Domain errors
// are final answers from a store and must not be retried.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrUserNotFound, ErrUserAlreadyExists, ErrInvalidCredentials,
		ErrExpiredToken, ErrInvalidSignature, ErrWrongTokenKind, ErrReplayDetected, ErrSessionRevoked,
		ErrSessionNotFound, ErrSessionNotActive,
		ErrTokenNotFound, ErrTokenExpired, ErrTokenAlreadyUsed,
		ErrRateLimitExceeded, ErrUnauthorized, ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ReplayError is returned when a refresh token is presented after its session
// was rotated or revoked. It matches ErrReplayDetected.
type ReplayError struct {
	UserID string
}

func (e *ReplayError) Error() string {
	return ErrReplayDetected.Error()
}

func (e *ReplayError) Is(target error) bool {
	return target == ErrReplayDetected
}

// RateLimitError carries the wait before the caller may try again. It matches
// ErrRateLimitExceeded.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return ErrRateLimitExceeded.Error()
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
