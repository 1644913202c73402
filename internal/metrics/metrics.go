package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed send attempts",
		},
	)

	JobsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_scheduled_total",
			Help: "Total jobs accepted into the delay queue",
		},
	)

	RateLimitDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Total send attempts denied by the hourly sender limit",
		},
	)

	QueueRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_retries_total",
			Help: "Total entries re-enqueued after a failed send attempt",
		},
	)

	FallbackSends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fallback_sends_total",
			Help: "Total synchronous sends performed because the queue was unreachable",
		},
	)

	OverdueJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "overdue_scheduled_jobs",
			Help: "Jobs still scheduled past their target time",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		EmailsSent,
		EmailFailures,
		JobsScheduled,
		RateLimitDenials,
		QueueRetries,
		FallbackSends,
		OverdueJobs,
	)
}
