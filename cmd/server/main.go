package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailflow/internal/api"
	"mailflow/internal/config"
	"mailflow/internal/dispatch"
	"mailflow/internal/janitor"
	"mailflow/internal/mail"
	"mailflow/internal/metrics"
	"mailflow/internal/queue"
	"mailflow/internal/ratelimit"
	"mailflow/internal/store"
	"mailflow/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	jobs, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer jobs.Close()

	if err := jobs.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Redis (shared by the rate limiter and the queue)
	// ------------------------------------------------
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Delay Queue + Rate Limiter
	// ------------------------------------------------
	policy := queue.RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		Base:        time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
	}
	delayQueue := queue.NewRedis(rdb, policy, time.Duration(cfg.QueuePollMS)*time.Millisecond, logger)

	limiter := ratelimit.New(
		&ratelimit.RedisCounters{Client: rdb},
		cfg.MaxEmailsPerHour,
		cfg.RateLimitFailClosed,
		logger,
	)

	// ------------------------------------------------
	// Email Sender
	// ------------------------------------------------
	sender := mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)

	// ------------------------------------------------
	// Worker Pool (readiness-gated: workers only start
	// once the queue answers; the API serves meanwhile
	// and dispatch falls back to synchronous sends)
	// ------------------------------------------------
	var wg sync.WaitGroup

	go func() {
		ready := backoff.NewExponentialBackOff()
		ready.MaxElapsedTime = 0 // retry until shutdown

		err := backoff.Retry(func() error {
			return delayQueue.Ready(ctx)
		}, backoff.WithContext(ready, ctx))
		if err != nil {
			logger.Warn("queue never became ready", zap.Error(err))
			return
		}

		logger.Info("queue ready, starting workers", zap.Int("count", cfg.WorkerCount))
		worker.StartPool(
			ctx,
			&wg,
			cfg.WorkerCount,
			delayQueue,
			limiter,
			sender,
			jobs,
			time.Duration(cfg.DelayBetweenSendMS)*time.Millisecond,
			logger,
		)
	}()

	// ------------------------------------------------
	// Janitor
	// ------------------------------------------------
	sweeper := janitor.Start(jobs, logger)

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	dispatcher := dispatch.New(jobs, delayQueue, sender, logger)
	handler := api.NewHandler(dispatcher, jobs, limiter, logger)

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: handler.Routes(),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	// Workers stop dequeuing on cancel; in-flight sends finish.
	wg.Wait()

	<-sweeper.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
