package config

import "github.com/kelseyhightower/envconfig"

type Config struct {
	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	// ----------------------------
	// Workers
	// ----------------------------
	WorkerCount        int `envconfig:"WORKER_COUNT" default:"5"`
	DelayBetweenSendMS int `envconfig:"DELAY_BETWEEN_EMAILS_MS" default:"1000"`
	RetryAttempts      int `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelayMS   int `envconfig:"RETRY_BASE_DELAY_MS" default:"2000"`

	// ----------------------------
	// Rate limiting (per sender, per UTC hour)
	// ----------------------------
	MaxEmailsPerHour    int  `envconfig:"MAX_EMAILS_PER_HOUR_PER_SENDER" default:"200"`
	RateLimitFailClosed bool `envconfig:"RATE_LIMIT_FAIL_CLOSED" default:"false"`

	// ----------------------------
	// Queue
	// ----------------------------
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	QueuePollMS   int    `envconfig:"QUEUE_POLL_INTERVAL_MS" default:"250"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}
