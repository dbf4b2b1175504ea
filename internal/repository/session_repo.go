package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"task-management-api/internal/model"
)

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s model.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		s.ID, s.UserID, s.IssuedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (model.Session, error) {
	var s model.Session
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, issued_at, expires_at, revoked, COALESCE(superseded_by::text, '')
		 FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &s.IssuedAt, &s.ExpiresAt, &s.Revoked, &s.SupersededBy)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, model.ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// lockUserSessions serialises rotation and revoke-all for one user until the
// transaction ends, so a revoke-all always sees sessions inserted by a
// rotation it raced with.
func lockUserSessions(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("lock user sessions: %w", err)
	}
	return nil
}

// Supersede marks oldID as replaced by next and inserts next, but only while
// oldID is still active at now. Otherwise it returns ErrSessionNotActive and
// changes nothing.
func (r *SessionRepository) Supersede(ctx context.Context, oldID string, next model.Session, now time.Time) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockUserSessions(ctx, tx, next.UserID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE sessions SET superseded_by = $2
			 WHERE id = $1 AND NOT revoked AND superseded_by IS NULL AND expires_at > $3`,
			oldID, next.ID, now)
		if err != nil {
			return fmt.Errorf("supersede session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrSessionNotActive
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO sessions (id, user_id, issued_at, expires_at)
			 VALUES ($1, $2, $3, $4)`,
			next.ID, next.UserID, next.IssuedAt, next.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert rotated session: %w", err)
		}
		return nil
	})
}

func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET revoked = true, revoked_at = $2 WHERE id = $1 AND NOT revoked`,
		id, at)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every session of the user, superseded ones
// included, and reports how many changed.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	var n int64
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockUserSessions(ctx, tx, userID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE sessions SET revoked = true, revoked_at = $2 WHERE user_id = $1 AND NOT revoked`,
			userID, at)
		if err != nil {
			return fmt.Errorf("revoke all sessions: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SessionRepository) CleanExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("clean expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
