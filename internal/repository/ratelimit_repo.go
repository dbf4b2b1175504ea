package repository

import (
	"context"
	"fmt"
	"time"
)

// RateLimitRepository is the shared counter store for multi-instance
// deployments. Each key holds one row for its current window.
type RateLimitRepository struct {
	db DBTX
}

func NewRateLimitRepository(db DBTX) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// Increment adds one hit to key in the window starting at windowStart and
// returns the count after the hit. A row from an older window restarts at 1.
func (r *RateLimitRepository) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`INSERT INTO rate_limit_counters (key, window_start, count, expires_at)
		 VALUES ($1, $2, 1, $3)
		 ON CONFLICT (key) DO UPDATE SET
		   count = CASE WHEN rate_limit_counters.window_start >= EXCLUDED.window_start
		                THEN rate_limit_counters.count + 1 ELSE 1 END,
		   window_start = GREATEST(rate_limit_counters.window_start, EXCLUDED.window_start),
		   expires_at = GREATEST(rate_limit_counters.expires_at, EXCLUDED.expires_at)
		 RETURNING count`,
		key, windowStart, windowStart.Add(window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment rate limit counter: %w", err)
	}
	return count, nil
}

func (r *RateLimitRepository) CleanExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM rate_limit_counters WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("clean expired rate limit counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
