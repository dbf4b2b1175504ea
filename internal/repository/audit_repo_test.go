package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-management-api/internal/model"
)

func TestAuditRepository_Log(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("anonymous actor stores null user", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO audit_entries`).
			WithArgs(model.AuditLogin, now, nil, "10.0.0.1", model.AuditStatusFailure, "UNAUTHORIZED").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := NewAuditRepository(mock).Log(context.Background(), model.AuditEntry{
			Action:     model.AuditLogin,
			OccurredAt: now,
			Actor:      model.AuditActor{IP: "10.0.0.1"},
			Status:     model.AuditStatusFailure,
			Error:      "UNAUTHORIZED",
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditRepository_Query(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mock := newMockPool(t)
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM audit_entries`).
		WithArgs("u1", 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{"action", "occurred_at", "actor_user_id", "actor_ip", "status", "error_code"}).
			AddRow(model.AuditLogin, now, "u1", "10.0.0.1", model.AuditStatusSuccess, ""))

	items, meta, err := NewAuditRepository(mock).Query(context.Background(), model.AuditQuery{ActorID: "u1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.AuditLogin, items[0].Action)
	assert.Equal(t, model.Meta{Page: 1, Limit: 50, Total: 1, TotalPages: 1}, meta)
	assert.NoError(t, mock.ExpectationsWereMet())
}
