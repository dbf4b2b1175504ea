// Package memory holds mutex-guarded stores for single-instance runs and tests.
// They honour the same conditional-update contracts as the Postgres repositories.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"task-management-api/internal/model"
)

type UserStore struct {
	mu     sync.RWMutex
	byID   map[string]model.User
	emails map[string]string
	names  map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:   map[string]model.User{},
		emails: map[string]string{},
		names:  map[string]string{},
	}
}

func (s *UserStore) FindByID(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lookupLocked(s.emails, normalize(email))
}

func (s *UserStore) FindByLogin(_ context.Context, login string) (model.User, error) {
	key := normalize(login)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, err := s.lookupLocked(s.names, key); err == nil {
		return u, nil
	}
	return s.lookupLocked(s.emails, key)
}

func (s *UserStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.emails[normalize(email)]
	return ok, nil
}

func (s *UserStore) ExistsByUsername(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.names[normalize(username)]
	return ok, nil
}

func (s *UserStore) Create(_ context.Context, u model.User) error {
	email := normalize(u.Email)
	name := normalize(u.Username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[email]; ok {
		return model.ErrUserAlreadyExists
	}
	if _, ok := s.names[name]; ok {
		return model.ErrUserAlreadyExists
	}

	u.Email = email
	s.byID[u.ID] = u
	s.emails[email] = u.ID
	s.names[name] = u.ID
	return nil
}

func (s *UserStore) UpdatePassword(_ context.Context, userID string, passwordHash string, at time.Time) error {
	return s.update(userID, func(u *model.User) {
		u.PasswordHash = passwordHash
		u.UpdatedAt = at
	})
}

func (s *UserStore) MarkVerified(_ context.Context, userID string, at time.Time) error {
	return s.update(userID, func(u *model.User) {
		u.IsVerified = true
		u.UpdatedAt = at
	})
}

func (s *UserStore) update(userID string, fn func(u *model.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	fn(&u)
	s.byID[userID] = u
	return nil
}

func (s *UserStore) lookupLocked(index map[string]string, key string) (model.User, error) {
	id, ok := index[key]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return s.byID[id], nil
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
