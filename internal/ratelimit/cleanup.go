package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner is implemented by stores that support expired-window garbage
// collection. Redis expires its counters natively and does not implement it.
type Cleaner interface {
	Cleanup(ctx context.Context, now time.Time) (int64, error)
}

// DefaultCleanupInterval is the default time between cleanup passes.
// A multiple of the window duration balances memory against overhead.
const DefaultCleanupInterval = 5 * time.Minute

// CleanupExpiredWindows runs one garbage collection pass over the store.
// Returns the number of windows removed.
func CleanupExpiredWindows(ctx context.Context, store Cleaner) (int64, error) {
	removed, err := store.Cleanup(ctx, time.Now())
	if err != nil {
		slog.Error("failed to clean up expired rate limit windows", "error", err)
		return 0, err
	}
	if removed > 0 {
		slog.Info("cleaned up expired rate limit windows", "removed", removed)
	}
	return removed, nil
}

// RunPeriodicCleanup runs window garbage collection at the given interval
// until the stop channel is closed. This function blocks and should
// typically be run in a goroutine.
func RunPeriodicCleanup(ctx context.Context, store Cleaner, interval time.Duration, stopCh <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := CleanupExpiredWindows(ctx, store); err != nil {
				slog.Error("periodic rate limit cleanup failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("stopping rate limit cleanup")
			return
		case <-stopCh:
			slog.Info("stopping rate limit cleanup")
			return
		}
	}
}
