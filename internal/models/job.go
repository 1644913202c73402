package models

import "time"

type JobStatus string

const (
	StatusScheduled JobStatus = "scheduled"
	StatusSent      JobStatus = "sent"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further status transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Job is a single scheduled email-send unit. Sender doubles as the
// rate-limit partition key. ScheduledAt is set once at creation; retry
// timing lives in the queue, not here.
type Job struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	UserID    string `json:"userId,omitempty"`

	ScheduledAt time.Time  `json:"scheduledAt"`
	Status      JobStatus  `json:"status"`
	SentAt      *time.Time `json:"sentAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
