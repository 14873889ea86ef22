package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/engagement-webhooks/internal/app"
	"github.com/ignite/engagement-webhooks/internal/config"
	"github.com/ignite/engagement-webhooks/internal/pkg/distlock"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
	"github.com/ignite/engagement-webhooks/internal/retry"
	"github.com/ignite/engagement-webhooks/internal/worker"
)

const replayLockKey = "webhook-retry-replayer"

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.ConfigureLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	var consumer *retry.SQSConsumer
	if a.SQSQueue != nil {
		consumer = retry.NewSQSConsumer(a.SQSQueue, a.Webhook, a.Archiver(), a.RetryPolicy())
		consumer.Start(ctx)
		logger.Info("[worker] SQS retry consumer started", "queue_url", cfg.Retry.SQSQueueURL)
	} else {
		lock := distlock.NewLock(a.Redis, a.DB, replayLockKey, cfg.Retry.StaleAfter())
		replayer := worker.NewRetryReplayer(a.Retries, a.Webhook, a.Archiver(), lock, worker.RetryReplayerConfig{
			Interval:  cfg.Retry.PollInterval(),
			StaleAge:  cfg.Retry.StaleAfter(),
			BatchSize: cfg.Retry.BatchSize,
			Policy:    a.RetryPolicy(),
		})
		go replayer.Start(ctx)
		logger.Info("[worker] Postgres retry replayer started")
	}

	go worker.NewDataCleanupWorker(a.DB, 0).Start(ctx)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("[worker] shutting down")
	cancel()
	if consumer != nil {
		consumer.Stop()
	}
	logger.Info("[worker] stopped")
}
