package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-management-api/internal/model"
)

func TestUserRepository_FindByLogin(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	columns := []string{"id", "email", "username", "password_hash", "full_name", "is_active", "is_verified", "created_at", "updated_at"}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		errMsg    string
	}{
		{
			name: "match",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM users`).
					WithArgs("alice").
					WillReturnRows(pgxmock.NewRows(columns).
						AddRow("u1", "a@x.com", "alice", "hash", "", true, false, now, now))
			},
		},
		{
			name: "no match",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM users`).
					WithArgs("alice").
					WillReturnRows(pgxmock.NewRows(columns))
			},
			wantErr: model.ErrUserNotFound,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM users`).
					WithArgs("alice").
					WillReturnError(errors.New("connection refused"))
			},
			errMsg: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			tt.setupMock(mock)

			got, err := NewUserRepository(mock).FindByLogin(context.Background(), "  alice ")
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			default:
				require.NoError(t, err)
				assert.Equal(t, "u1", got.ID)
				assert.Equal(t, "hash", got.PasswordHash)
				assert.True(t, got.IsActive)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestUserRepository_Create(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	user := model.User{ID: "u1", Email: " A@X.com", Username: "alice", PasswordHash: "hash", IsActive: true, CreatedAt: now, UpdatedAt: now}

	t.Run("email is normalised", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs("u1", "a@x.com", "alice", "hash", "", true, false, now, now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewUserRepository(mock).Create(context.Background(), user))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to already exists", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs("u1", "a@x.com", "alice", "hash", "", true, false, now, now).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		err := NewUserRepository(mock).Create(context.Background(), user)
		require.ErrorIs(t, err, model.ErrUserAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_Updates(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("mark verified", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`UPDATE users SET is_verified`).
			WithArgs("u1", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewUserRepository(mock).MarkVerified(context.Background(), "u1", now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update password on missing user", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`UPDATE users SET password_hash`).
			WithArgs("u1", "new-hash", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewUserRepository(mock).UpdatePassword(context.Background(), "u1", "new-hash", now)
		require.ErrorIs(t, err, model.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exists by email", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("a@x.com").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		exists, err := NewUserRepository(mock).ExistsByEmail(context.Background(), "A@x.com ")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
