// Package store persists job lifecycle state in Postgres. Status
// transitions are guarded in SQL so terminal states never revert, even
// if two executors race on the same job id.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailflow/internal/models"
)

const listCap = 100

type Postgres struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, conn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

func (s *Postgres) Close() {
	s.Pool.Close()
}

// EnsureSchema creates the email_jobs table if it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS email_jobs (
			id           TEXT PRIMARY KEY,
			subject      TEXT NOT NULL,
			body         TEXT NOT NULL,
			recipient    TEXT NOT NULL,
			sender       TEXT NOT NULL,
			user_id      TEXT NOT NULL DEFAULT '',
			scheduled_at TIMESTAMPTZ NOT NULL,
			status       TEXT NOT NULL CHECK (status IN ('scheduled','sent','failed')),
			sent_at      TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_email_jobs_user_status
			ON email_jobs (user_id, status, scheduled_at);
	`)
	return err
}

// CreateJob inserts job and fills its CreatedAt/UpdatedAt from the
// database clock.
func (s *Postgres) CreateJob(ctx context.Context, job *models.Job) error {
	return s.Pool.QueryRow(ctx,
		`INSERT INTO email_jobs
		 (id, subject, body, recipient, sender, user_id, scheduled_at, status, sent_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL)
		 RETURNING created_at, updated_at`,
		job.ID,
		job.Subject,
		job.Body,
		job.Recipient,
		job.Sender,
		job.UserID,
		job.ScheduledAt,
		job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

// UpdateStatus moves a job to a terminal state. The WHERE clause only
// matches jobs still scheduled, which is what makes the transition
// monotonic: the first terminal write wins and later writes are no-ops.
func (s *Postgres) UpdateStatus(
	ctx context.Context,
	id string,
	status models.JobStatus,
	sentAt *time.Time,
) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE email_jobs
		 SET status=$1,
		     sent_at=$2,
		     updated_at=NOW()
		 WHERE id=$3 AND status='scheduled'`,
		status,
		sentAt,
		id,
	)
	return err
}

// FindScheduled lists a user's pending jobs by target time ascending,
// capped at 100.
func (s *Postgres) FindScheduled(ctx context.Context, userID string) ([]models.Job, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, subject, body, recipient, sender, user_id,
		        scheduled_at, status, sent_at, created_at, updated_at
		 FROM email_jobs
		 WHERE user_id=$1 AND status='scheduled'
		 ORDER BY scheduled_at ASC
		 LIMIT $2`,
		userID, listCap,
	)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// FindTerminal lists a user's sent and failed jobs by terminal instant
// descending, capped at 100.
func (s *Postgres) FindTerminal(ctx context.Context, userID string) ([]models.Job, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, subject, body, recipient, sender, user_id,
		        scheduled_at, status, sent_at, created_at, updated_at
		 FROM email_jobs
		 WHERE user_id=$1 AND status IN ('sent','failed')
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		userID, listCap,
	)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// CountOverdue counts jobs still scheduled whose target time is older
// than threshold. Used by the janitor for operator visibility only.
func (s *Postgres) CountOverdue(ctx context.Context, threshold time.Time) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_jobs
		 WHERE status='scheduled' AND scheduled_at < $1`,
		threshold,
	).Scan(&n)
	return n, err
}

func scanJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()

	jobs := make([]models.Job, 0)
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(
			&j.ID, &j.Subject, &j.Body, &j.Recipient, &j.Sender, &j.UserID,
			&j.ScheduledAt, &j.Status, &j.SentAt, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
