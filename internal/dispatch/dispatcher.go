// Package dispatch turns a batch of send requests into persisted jobs
// and delay-queue entries. Each job record is created before its queue
// entry so a crash between the two leaves a recoverable record rather
// than an untraceable send.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailflow/internal/mail"
	"mailflow/internal/metrics"
	"mailflow/internal/models"
	"mailflow/internal/queue"
	"mailflow/internal/recipients"
)

// ErrValidation marks caller errors: the batch was rejected before any
// job was created.
var ErrValidation = errors.New("invalid batch")

// JobStore is the slice of the persistence layer the dispatcher needs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateStatus(ctx context.Context, id string, status models.JobStatus, sentAt *time.Time) error
}

// Sender performs a synchronous transmission; only used on the
// queue-unreachable fallback path.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// BatchRequest is one submit-batch call. StartTime is ignored by
// SendNow; DelayBetween spaces consecutive recipients' target times.
type BatchRequest struct {
	Subject      string
	Body         string
	Recipients   []string
	StartTime    time.Time
	DelayBetween time.Duration
	Sender       string
	UserID       string
}

// BatchResult summarizes a batch: partial problems lower the counts,
// they never fail the whole request.
type BatchResult struct {
	Accepted int
	Skipped  int
	Failed   int

	FirstScheduledAt time.Time
	LastScheduledAt  time.Time

	Jobs []*models.Job
}

type Dispatcher struct {
	store  JobStore
	queue  queue.DelayQueue
	sender Sender
	log    *zap.Logger

	now func() time.Time
}

func New(store JobStore, q queue.DelayQueue, sender Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		queue:  q,
		sender: sender,
		log:    log,
		now:    time.Now,
	}
}

// Schedule accepts a batch with an explicit start time. The i-th
// accepted recipient's target time is start + i*delayBetween; skipped
// recipients leave no gap.
func (d *Dispatcher) Schedule(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if err := d.validate(req); err != nil {
		return nil, err
	}
	if req.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: startTime is required", ErrValidation)
	}
	return d.run(ctx, req, req.StartTime, req.DelayBetween)
}

// SendNow accepts a batch anchored at the current time. DelayBetween
// defaults to one second; the first recipient carries zero extra delay.
func (d *Dispatcher) SendNow(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if err := d.validate(req); err != nil {
		return nil, err
	}
	delay := req.DelayBetween
	if delay <= 0 {
		delay = time.Second
	}
	return d.run(ctx, req, d.now(), delay)
}

func (d *Dispatcher) validate(req BatchRequest) error {
	switch {
	case strings.TrimSpace(req.Subject) == "":
		return fmt.Errorf("%w: subject is required", ErrValidation)
	case strings.TrimSpace(req.Body) == "":
		return fmt.Errorf("%w: body is required", ErrValidation)
	case len(req.Recipients) == 0:
		return fmt.Errorf("%w: recipients must be a non-empty list", ErrValidation)
	case strings.TrimSpace(req.Sender) == "":
		return fmt.Errorf("%w: sender is required", ErrValidation)
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, req BatchRequest, start time.Time, spacing time.Duration) (*BatchResult, error) {
	res := &BatchResult{}

	for _, raw := range req.Recipients {
		recipient := strings.TrimSpace(raw)
		if !recipients.ValidAddress(recipient) {
			d.log.Warn("skipping invalid recipient", zap.String("recipient", recipient))
			res.Skipped++
			continue
		}

		scheduledAt := start.Add(time.Duration(res.Accepted) * spacing)

		job := &models.Job{
			ID:          uuid.NewString(),
			Subject:     req.Subject,
			Body:        req.Body,
			Recipient:   recipient,
			Sender:      req.Sender,
			UserID:      req.UserID,
			ScheduledAt: scheduledAt,
			Status:      models.StatusScheduled,
		}

		if err := d.store.CreateJob(ctx, job); err != nil {
			d.log.Error("job create failed",
				zap.String("recipient", recipient),
				zap.Error(err),
			)
			res.Failed++
			continue
		}

		entry := queue.Entry{
			JobID:     job.ID,
			Recipient: recipient,
			Subject:   req.Subject,
			Body:      req.Body,
			Sender:    req.Sender,
			UserID:    req.UserID,
		}

		delay := scheduledAt.Sub(d.now())
		if delay < 0 {
			delay = 0
		}

		if _, err := d.queue.Enqueue(ctx, entry, delay); err != nil {
			d.log.Warn("queue unavailable, sending synchronously",
				zap.String("recipient", recipient),
				zap.Error(err),
			)
			if !d.sendSync(ctx, job) {
				res.Failed++
				continue
			}
		}

		metrics.JobsScheduled.Inc()
		if res.Accepted == 0 {
			res.FirstScheduledAt = scheduledAt
		}
		res.LastScheduledAt = scheduledAt
		res.Accepted++
		res.Jobs = append(res.Jobs, job)
	}

	return res, nil
}

// sendSync is the degraded-mode escape valve: with the queue down the
// email goes out immediately and the job still reaches a terminal
// status through the normal path.
func (d *Dispatcher) sendSync(ctx context.Context, job *models.Job) bool {
	metrics.FallbackSends.Inc()

	msg := mail.Message{
		From:    job.Sender,
		To:      job.Recipient,
		Subject: job.Subject,
		Body:    job.Body,
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		d.log.Error("synchronous fallback send failed",
			zap.String("recipient", job.Recipient),
			zap.Error(err),
		)
		if uerr := d.store.UpdateStatus(ctx, job.ID, models.StatusFailed, nil); uerr != nil {
			d.log.Error("failed status update failed", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		metrics.EmailFailures.Inc()
		return false
	}

	sentAt := d.now()
	if err := d.store.UpdateStatus(ctx, job.ID, models.StatusSent, &sentAt); err != nil {
		d.log.Error("sent status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.EmailsSent.Inc()

	d.log.Info("email sent synchronously", zap.String("recipient", job.Recipient))
	return true
}
