// Package app wires configuration into the stores, queues and services
// shared by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/engagement-webhooks/internal/config"
	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/backoff"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
	"github.com/ignite/engagement-webhooks/internal/repository/postgres"
	redisrepo "github.com/ignite/engagement-webhooks/internal/repository/redis"
	"github.com/ignite/engagement-webhooks/internal/retry"
	"github.com/ignite/engagement-webhooks/internal/service/suppression"
	"github.com/ignite/engagement-webhooks/internal/service/webhook"
	"github.com/ignite/engagement-webhooks/internal/storage"
)

// MetricsStore records and reads per-day webhook counters.
type MetricsStore interface {
	RecordMetrics(ctx context.Context, m domain.WebhookMetrics) error
	GetMetrics(ctx context.Context, day time.Time) ([]domain.WebhookMetrics, error)
}

// App holds the long-lived clients. Redis, AWS and SQSQueue are nil when
// not configured.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	AWS    *storage.AWSStorage

	Retries     *postgres.RetryRepo
	SQSQueue    *retry.SQSQueue
	Metrics     MetricsStore
	Suppression *suppression.Service
	Webhook     *webhook.Service
}

// ConfigureLogger applies the log section of cfg.
func ConfigureLogger(cfg config.LogConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.ShouldRedact())
}

// New connects to every configured backend and builds the webhook service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db, Retries: postgres.NewRetryRepo(db)}

	a.Redis = OpenRedis(ctx, cfg.Redis.URL)

	if cfg.AWSEnabled() {
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.AWS = storage.NewAWSStorage(awsCfg, cfg.Metrics.DynamoDBTable, cfg.Archive.S3Bucket, cfg.Archive.Prefix)
		if cfg.Retry.Backend == "sqs" {
			if cfg.Retry.SQSQueueURL == "" {
				a.Close()
				return nil, fmt.Errorf("retry.backend is sqs but retry.sqs_queue_url is empty")
			}
			a.SQSQueue = retry.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.Retry.SQSQueueURL)
		}
	}

	if cfg.Metrics.Backend == "dynamodb" && a.AWS != nil && cfg.Metrics.DynamoDBTable != "" {
		a.Metrics = a.AWS
	} else {
		a.Metrics = postgres.NewMetricsRepo(db)
	}

	a.Suppression = suppression.NewService(postgres.NewSuppressionRepo(db), postgres.NewEnrollmentRepo(db))

	deps := webhook.Dependencies{
		Communications: postgres.NewCommunicationRepo(db),
		EventLog:       postgres.NewEventLogRepo(db),
		Profiles:       postgres.NewProfileRepo(db),
		Guard:          a.Suppression,
		Metrics:        a.Metrics,
		Backoff:        a.BackoffPolicy(),
	}
	if a.SQSQueue != nil {
		deps.Retry = a.SQSQueue
	} else {
		deps.Retry = a.Retries
	}
	if a.Redis != nil {
		deps.Dedup = redisrepo.NewDedupCache(a.Redis, cfg.Redis.DedupTTL())
	}
	a.Webhook = webhook.NewService(deps)

	logger.Info("[app] initialized",
		"retry_backend", retryBackend(a), "metrics_backend", cfg.Metrics.Backend,
		"dedup_cache", a.Redis != nil, "archive", a.Archiver() != nil)
	return a, nil
}

// BackoffPolicy returns the retry schedule from config.
func (a *App) BackoffPolicy() backoff.Policy {
	p := backoff.Policy{Base: a.Config.Retry.BaseDelay(), Max: a.Config.Retry.MaxDelay()}
	if p.Base <= 0 {
		return backoff.DefaultPolicy()
	}
	return p
}

// RetryPolicy returns when replays give up.
func (a *App) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: a.Config.Retry.MaxAttempts, Backoff: a.BackoffPolicy()}
}

// Archiver returns the S3 dead-letter archive, or nil without a bucket.
func (a *App) Archiver() retry.Archiver {
	if a.AWS == nil || a.Config.Archive.S3Bucket == "" {
		return nil
	}
	return a.AWS
}

// Close releases every client.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// OpenDB opens and pings the Postgres pool.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database.url (DATABASE_URL) is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis connects to url. An empty or unreachable Redis returns nil and
// the service runs without the dedup cache.
func OpenRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		logger.Info("[app] Redis not configured; dedup cache disabled, using PG advisory locks")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("[app] Redis connection failed; dedup cache disabled", "error", err.Error())
		client.Close()
		return nil
	}
	return client
}

func retryBackend(a *App) string {
	if a.SQSQueue != nil {
		return "sqs"
	}
	return "postgres"
}
