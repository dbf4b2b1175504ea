package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"task-management-api/internal/model"
)

type OneTimeTokenRepository struct {
	db DBTX
}

func NewOneTimeTokenRepository(db DBTX) *OneTimeTokenRepository {
	return &OneTimeTokenRepository{db: db}
}

// Create stores token. With replacePrior, unused tokens of the same user and
// purpose are deleted in the same transaction.
func (r *OneTimeTokenRepository) Create(ctx context.Context, token model.OneTimeToken, replacePrior bool) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if replacePrior {
			if _, err := tx.Exec(ctx,
				`DELETE FROM one_time_tokens WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL`,
				token.UserID, string(token.Purpose)); err != nil {
				return fmt.Errorf("delete prior tokens: %w", err)
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO one_time_tokens (id, token_hash, purpose, user_id, issued_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			token.ID, token.TokenHash, string(token.Purpose), token.UserID, token.IssuedAt, token.ExpiresAt)
		if err != nil {
			return fmt.Errorf("create one-time token: %w", err)
		}
		return nil
	})
}

// Consume marks the token used if it is unused and unexpired at now and returns
// its owner. Any other state yields ErrTokenNotFound; callers classify with Find.
func (r *OneTimeTokenRepository) Consume(ctx context.Context, tokenHash string, purpose model.TokenKind, now time.Time) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx,
		`UPDATE one_time_tokens SET used_at = $3
		 WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > $3
		 RETURNING user_id`,
		tokenHash, string(purpose), now).Scan(&userID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", model.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume one-time token: %w", err)
	}
	return userID, nil
}

func (r *OneTimeTokenRepository) Find(ctx context.Context, tokenHash string, purpose model.TokenKind) (model.OneTimeToken, error) {
	var t model.OneTimeToken
	var storedPurpose string
	err := r.db.QueryRow(ctx,
		`SELECT id, token_hash, purpose, user_id, issued_at, expires_at, used_at IS NOT NULL
		 FROM one_time_tokens WHERE token_hash = $1 AND purpose = $2`,
		tokenHash, string(purpose)).
		Scan(&t.ID, &t.TokenHash, &storedPurpose, &t.UserID, &t.IssuedAt, &t.ExpiresAt, &t.Used)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.OneTimeToken{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.OneTimeToken{}, fmt.Errorf("find one-time token: %w", err)
	}
	t.Purpose = model.TokenKind(storedPurpose)
	return t, nil
}

func (r *OneTimeTokenRepository) CleanExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM one_time_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("clean expired one-time tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
