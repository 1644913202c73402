// Package queue provides the delay-queue abstraction the dispatcher
// feeds and the worker pool drains: enqueue-with-delay, blocking
// dequeue-when-due, reschedule, and bounded exponential retry. Two
// backends satisfy it — a redis sorted set for production and an
// in-process heap for tests and brokerless runs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by operations on a queue that has been closed.
var ErrClosed = errors.New("queue closed")

// Entry is the queue's denormalized view of a job: everything a worker
// needs to attempt the send without re-fetching the job record. JobID
// is a back-reference, not ownership.
type Entry struct {
	JobID     string `json:"jobId"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Sender    string `json:"sender"`
	UserID    string `json:"userId,omitempty"`

	// Attempts counts completed send attempts. The dispatcher enqueues
	// with zero; Retry increments it.
	Attempts int `json:"attempts"`
}

// DedupKey derives the idempotency key for an entry enqueued at t.
// Binding the enqueue instant into the key means a dispatcher retrying
// its own enqueue call cannot destructively collide with an existing
// entry for the same job.
func (e Entry) DedupKey(t time.Time) string {
	return fmt.Sprintf("%s-%d", e.JobID, t.UnixMilli())
}

// DelayQueue holds entries keyed by a target execution time. Entries
// become eligible for dequeue no earlier than enqueue time + delay;
// among due entries ordering beyond due time is arbitrary.
type DelayQueue interface {
	// Enqueue makes e eligible for dequeue after delay and returns the
	// entry's dedup key.
	Enqueue(ctx context.Context, e Entry, delay time.Duration) (string, error)

	// Dequeue blocks until a due entry is available or ctx is done.
	Dequeue(ctx context.Context) (Entry, error)

	// Reschedule re-inserts e with a fresh delay, leaving its attempt
	// count untouched. Used when a rate-limit denial pushes a send out.
	Reschedule(ctx context.Context, e Entry, delay time.Duration) error

	// Retry re-enqueues e after a failed send attempt, applying the
	// backoff policy. It returns false when attempts are exhausted and
	// the entry has been abandoned.
	Retry(ctx context.Context, e Entry) (bool, error)

	// Ready reports whether the backing store is reachable.
	Ready(ctx context.Context) error

	Close() error
}

// RetryPolicy is bounded exponential backoff: attempt n (1-based) is
// retried after Base << (n-1), up to MaxAttempts total attempts.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// DefaultRetryPolicy matches the documented defaults: three attempts,
// two-second base delay.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Base: 2 * time.Second}

// Next records one more completed attempt on e and returns the updated
// entry with the delay before the next attempt. ok is false when the
// attempt budget is spent.
func (p RetryPolicy) Next(e Entry) (next Entry, delay time.Duration, ok bool) {
	e.Attempts++
	if e.Attempts >= p.MaxAttempts {
		return e, 0, false
	}
	return e, p.Base << (e.Attempts - 1), true
}
