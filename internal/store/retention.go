package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often StartRetentionWorker sweeps.
const DefaultRetentionInterval = time.Hour

// StartRetentionWorker runs a background goroutine that periodically deletes
// insight records older than ttl. It stops when ctx is done. A non-positive
// ttl disables the worker.
func StartRetentionWorker(ctx context.Context, repo Repository, ttl, interval time.Duration) {
	if ttl <= 0 {
		slog.Info("Retention worker disabled")
		return
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, repo Repository, ttl time.Duration) {
	deleted, err := repo.CleanupExpired(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Retention worker failed to clean up insights", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker removed expired insights", "count", deleted)
	}
}
