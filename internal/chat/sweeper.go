package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/pdnlabs/pdn-chat/internal/store"
)

const sweepInterval = 5 * time.Minute

// StartSweeper launches the background worker that removes assessments idle
// longer than ttl. It stops when ctx is canceled.
func StartSweeper(ctx context.Context, repo store.Repository, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		slog.Info("Session sweeper started", "ttl", ttl, "interval", sweepInterval)

		for {
			select {
			case <-ctx.Done():
				slog.Info("Session sweeper stopped")
				return
			case <-ticker.C:
				sweep(ctx, repo, ttl)
			}
		}
	}()
}

func sweep(ctx context.Context, repo store.Repository, ttl time.Duration) {
	var deleted int64
	err := store.WithRetry(ctx, func() error {
		var err error
		deleted, err = repo.CleanupExpired(ctx, ttl)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Session sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Expired assessments removed", "count", deleted)
	}
}
