// Package janitor periodically surfaces jobs stuck in the scheduled
// state past their target time. It reports; it never repairs — stale
// records are an operator concern.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mailflow/internal/metrics"
)

// grace is how far past its target a scheduled job must be before it
// counts as overdue; it absorbs queue latency and retry backoff.
const grace = 10 * time.Minute

type Store interface {
	CountOverdue(ctx context.Context, threshold time.Time) (int64, error)
}

// Start runs the overdue sweep every five minutes until the returned
// cron is stopped.
func Start(store Store, log *zap.Logger) *cron.Cron {
	c := cron.New()

	c.AddFunc("@every 5m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := store.CountOverdue(ctx, time.Now().Add(-grace))
		if err != nil {
			log.Error("overdue sweep failed", zap.Error(err))
			return
		}

		metrics.OverdueJobs.Set(float64(n))
		if n > 0 {
			log.Warn("jobs scheduled past their target time", zap.Int64("count", n))
		}
	})

	c.Start()
	return c
}
