package memory

import (
	"context"
	"sync"
	"time"

	"task-management-api/internal/model"
)

type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]model.Session{}}
}

func (s *SessionStore) Create(_ context.Context, session model.Session) error {
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return model.Session{}, model.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Supersede(_ context.Context, oldID string, next model.Session, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.sessions[oldID]
	if !ok || old.State(now) != model.SessionActive {
		return model.ErrSessionNotActive
	}

	old.SupersededBy = next.ID
	s.sessions[oldID] = old
	s.sessions[next.ID] = next
	return nil
}

func (s *SessionStore) Revoke(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok && !session.Revoked {
		session.Revoked = true
		s.sessions[id] = session
	}
	return nil
}

func (s *SessionStore) RevokeAllForUser(_ context.Context, userID string, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.sessions {
		if session.UserID == userID && !session.Revoked {
			session.Revoked = true
			s.sessions[id] = session
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) CleanExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.sessions {
		if !session.ExpiresAt.After(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
