package memory

import (
	"context"
	"sync"
	"time"

	"task-management-api/internal/model"
)

type tokenKey struct {
	hash    string
	purpose model.TokenKind
}

type OneTimeTokenStore struct {
	mu     sync.Mutex
	tokens map[tokenKey]model.OneTimeToken
}

func NewOneTimeTokenStore() *OneTimeTokenStore {
	return &OneTimeTokenStore{tokens: map[tokenKey]model.OneTimeToken{}}
}

func (s *OneTimeTokenStore) Create(_ context.Context, token model.OneTimeToken, replacePrior bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if replacePrior {
		for key, existing := range s.tokens {
			if existing.UserID == token.UserID && existing.Purpose == token.Purpose && !existing.Used {
				delete(s.tokens, key)
			}
		}
	}

	s.tokens[tokenKey{hash: token.TokenHash, purpose: token.Purpose}] = token
	return nil
}

func (s *OneTimeTokenStore) Consume(_ context.Context, tokenHash string, purpose model.TokenKind, now time.Time) (string, error) {
	key := tokenKey{hash: tokenHash, purpose: purpose}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[key]
	if !ok || token.Used || !now.Before(token.ExpiresAt) {
		return "", model.ErrTokenNotFound
	}

	token.Used = true
	s.tokens[key] = token
	return token.UserID, nil
}

func (s *OneTimeTokenStore) Find(_ context.Context, tokenHash string, purpose model.TokenKind) (model.OneTimeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenKey{hash: tokenHash, purpose: purpose}]
	if !ok {
		return model.OneTimeToken{}, model.ErrTokenNotFound
	}
	return token, nil
}

func (s *OneTimeTokenStore) CleanExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, token := range s.tokens {
		if !token.ExpiresAt.After(before) {
			delete(s.tokens, key)
			n++
		}
	}
	return n, nil
}
