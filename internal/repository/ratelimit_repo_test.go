package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitRepository_Increment(t *testing.T) {
	windowStart := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("returns post-increment count", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`INSERT INTO rate_limit_counters`).
			WithArgs("auth:10.0.0.1", windowStart, windowStart.Add(time.Minute)).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

		count, err := NewRateLimitRepository(mock).Increment(context.Background(), "auth:10.0.0.1", windowStart, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 4, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`INSERT INTO rate_limit_counters`).
			WithArgs("auth:10.0.0.1", windowStart, windowStart.Add(time.Minute)).
			WillReturnError(errors.New("too many connections"))

		_, err := NewRateLimitRepository(mock).Increment(context.Background(), "auth:10.0.0.1", windowStart, time.Minute)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many connections")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
