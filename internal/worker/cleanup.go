package worker

import (
	"context"
	"log/slog"
	"time"

	"task-management-api/internal/security"
)

// Expirer deletes rows that expired at or before the given instant.
type Expirer interface {
	CleanExpired(ctx context.Context, before time.Time) (int64, error)
}

type CleanupRecorder interface {
	RecordCleanup(target string, deleted int64)
}

// Target is one store to sweep. Rows are kept for Retention past their expiry
// so late lookups can still tell expired from unknown.
type Target struct {
	Name      string
	Store     Expirer
	Retention time.Duration
}

type Cleanup struct {
	targets  []Target
	interval time.Duration
	timeout  time.Duration
	clock    security.Clock
	recorder CleanupRecorder
}

func NewCleanup(interval time.Duration, clock security.Clock, recorder CleanupRecorder, targets ...Target) *Cleanup {
	if interval <= 0 {
		interval = time.Hour
	}
	if clock == nil {
		clock = security.SystemClock{}
	}
	return &Cleanup{
		targets:  targets,
		interval: interval,
		timeout:  30 * time.Second,
		clock:    clock,
		recorder: recorder,
	}
}

// Start sweeps once immediately and then on every tick until ctx is done.
// The returned channel closes when the loop exits.
func (c *Cleanup) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunOnce(ctx)
			}
		}
	}()

	return done
}

// RunOnce sweeps every target. A failing target does not stop the others.
func (c *Cleanup) RunOnce(ctx context.Context) {
	now := c.clock.Now()
	for _, target := range c.targets {
		if ctx.Err() != nil {
			return
		}

		sweepCtx, cancel := context.WithTimeout(ctx, c.timeout)
		deleted, err := target.Store.CleanExpired(sweepCtx, now.Add(-target.Retention))
		cancel()

		if err != nil {
			slog.Warn("cleanup failed", "target", target.Name, "error", err)
			continue
		}
		if c.recorder != nil {
			c.recorder.RecordCleanup(target.Name, deleted)
		}
		if deleted > 0 {
			slog.Info("cleanup removed expired rows", "target", target.Name, "deleted", deleted)
		}
	}
}
