// Package worker runs the fixed-size pool of executors that drain the
// delay queue and perform sends.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailflow/internal/mail"
	"mailflow/internal/metrics"
	"mailflow/internal/models"
	"mailflow/internal/queue"
)

// rateLimitDefer is how far a denied entry is pushed out: roughly the
// next hour bucket.
const rateLimitDefer = time.Hour

// JobStore is the slice of the persistence layer workers need.
type JobStore interface {
	UpdateStatus(ctx context.Context, id string, status models.JobStatus, sentAt *time.Time) error
}

// RateLimiter guards the per-sender hourly quota shared across all
// worker processes.
type RateLimiter interface {
	CheckAndCharge(ctx context.Context, sender string) bool
}

type Sender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// StartPool launches n executors. Each loops: dequeue a due entry,
// charge the rate limiter, pace, send, record the terminal outcome.
// Cancelling ctx stops new dequeues promptly; an entry already past the
// rate check finishes its send before the executor exits.
func StartPool(
	ctx context.Context,
	wg *sync.WaitGroup,
	n int,
	q queue.DelayQueue,
	limiter RateLimiter,
	sender Sender,
	store JobStore,
	pacing time.Duration,
	logger *zap.Logger,
) {
	if pacing <= 0 {
		pacing = time.Second
	}

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			log := logger.With(zap.Int("worker_id", id))
			log.Info("worker started")

			// One pacer per executor: sends from this executor are
			// spaced apart, independent of its siblings.
			pacer := rate.NewLimiter(rate.Every(pacing), 1)

			for {
				entry, err := q.Dequeue(ctx)
				if err != nil {
					log.Info("worker shutting down", zap.Error(err))
					return
				}

				process(ctx, entry, q, limiter, sender, store, pacer, log)
			}
		}(i)
	}
}

func process(
	ctx context.Context,
	entry queue.Entry,
	q queue.DelayQueue,
	limiter RateLimiter,
	sender Sender,
	store JobStore,
	pacer *rate.Limiter,
	log *zap.Logger,
) {
	// The dequeued entry is no longer in the queue; from here on every
	// path must either send it or put it back. Detach from cancellation
	// so shutdown does not strand it.
	finishCtx := context.WithoutCancel(ctx)

	// ----------------------------
	// Rate limit
	// ----------------------------
	if !limiter.CheckAndCharge(ctx, entry.Sender) {
		metrics.RateLimitDenials.Inc()
		log.Info("rate limit reached, rescheduling",
			zap.String("sender", entry.Sender),
			zap.String("job_id", entry.JobID),
		)
		if err := q.Reschedule(finishCtx, entry, rateLimitDefer); err != nil {
			log.Error("reschedule failed", zap.String("job_id", entry.JobID), zap.Error(err))
		}
		return
	}

	// ----------------------------
	// Pacing
	// ----------------------------
	if err := pacer.Wait(ctx); err != nil {
		// Shutdown mid-pace: nothing was sent, put the entry back so
		// another process picks it up.
		if rerr := q.Reschedule(finishCtx, entry, 0); rerr != nil {
			log.Error("requeue on shutdown failed", zap.String("job_id", entry.JobID), zap.Error(rerr))
		}
		return
	}

	// ----------------------------
	// Send
	// ----------------------------
	msg := mail.Message{
		From:    entry.Sender,
		To:      entry.Recipient,
		Subject: entry.Subject,
		Body:    entry.Body,
	}

	if err := sender.Send(finishCtx, msg); err != nil {
		metrics.EmailFailures.Inc()
		log.Error("email send failed",
			zap.String("to", entry.Recipient),
			zap.String("job_id", entry.JobID),
			zap.Int("attempts", entry.Attempts+1),
			zap.Error(err),
		)

		if uerr := store.UpdateStatus(finishCtx, entry.JobID, models.StatusFailed, nil); uerr != nil {
			log.Error("failed status update failed", zap.String("job_id", entry.JobID), zap.Error(uerr))
		}

		retried, rerr := q.Retry(finishCtx, entry)
		if rerr != nil {
			log.Error("retry enqueue failed", zap.String("job_id", entry.JobID), zap.Error(rerr))
			return
		}
		if retried {
			metrics.QueueRetries.Inc()
		} else {
			log.Warn("retries exhausted, abandoning entry",
				zap.String("job_id", entry.JobID),
				zap.String("to", entry.Recipient),
			)
		}
		return
	}

	// ----------------------------
	// Mark as sent
	// ----------------------------
	sentAt := time.Now()
	if err := store.UpdateStatus(finishCtx, entry.JobID, models.StatusSent, &sentAt); err != nil {
		log.Error("sent status update failed", zap.String("job_id", entry.JobID), zap.Error(err))
	}

	metrics.EmailsSent.Inc()
	log.Info("email sent",
		zap.String("to", entry.Recipient),
		zap.String("job_id", entry.JobID),
	)
}
