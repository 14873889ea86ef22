package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Retry    RetryConfig    `yaml:"retry"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Archive  ArchiveConfig  `yaml:"archive"`
	AWS      AWSConfig      `yaml:"aws"`
	Log      LogConfig      `yaml:"log"`
	CORS     CORSConfig     `yaml:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds the optional Redis settings. An empty URL disables the
// dedup cache and falls back to Postgres advisory locks.
type RedisConfig struct {
	URL           string `yaml:"url"`
	DedupTTLHours int    `yaml:"dedup_ttl_hours"`
}

// DedupTTL returns how long a processed event id stays in the cache.
func (c RedisConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLHours) * time.Hour
}

// WebhookConfig holds the provider endpoint and signature settings.
type WebhookConfig struct {
	Path                   string `yaml:"path"`
	Source                 string `yaml:"source"`
	VerificationKey        string `yaml:"verification_key"`
	SignatureHeader        string `yaml:"signature_header"`
	TimestampHeader        string `yaml:"timestamp_header"`
	FreshnessWindowSeconds int    `yaml:"freshness_window_seconds"`
	MaxBodyBytes           int64  `yaml:"max_body_bytes"`
}

// FreshnessWindow returns the accepted clock skew for signed timestamps.
func (c WebhookConfig) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowSeconds) * time.Second
}

// RetryConfig controls where retry tickets go and how they are replayed.
type RetryConfig struct {
	Backend             string `yaml:"backend"` // "postgres" or "sqs"
	SQSQueueURL         string `yaml:"sqs_queue_url"`
	MaxAttempts         int    `yaml:"max_attempts"`
	BaseDelaySeconds    int    `yaml:"base_delay_seconds"`
	MaxDelaySeconds     int    `yaml:"max_delay_seconds"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	BatchSize           int    `yaml:"batch_size"`
	StaleAfterMinutes   int    `yaml:"stale_after_minutes"`
}

// BaseDelay returns the first backoff step.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySeconds) * time.Second
}

// MaxDelay returns the backoff cap.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

// PollInterval returns how often the replayer looks for due tickets.
func (c RetryConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// StaleAfter returns how long a ticket may stay claimed before it is
// considered abandoned by a crashed worker.
func (c RetryConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// MetricsConfig selects where per-day webhook counters are written.
type MetricsConfig struct {
	Backend       string `yaml:"backend"` // "postgres" or "dynamodb"
	DynamoDBTable string `yaml:"dynamodb_table"`
}

// ArchiveConfig holds the S3 bucket for dead-lettered retry tickets.
type ArchiveConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	Prefix   string `yaml:"prefix"`
}

// AWSConfig holds shared AWS client settings. Endpoint and the static keys
// are only set when running against a local AWS emulator.
type AWSConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GetProfile returns the AWS profile, with env override and ECS detection
func (c AWSConfig) GetProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		return envProfile
	}
	// On ECS the task role supplies credentials.
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.Profile
}

// AWSEnabled reports whether any AWS-backed component is configured.
func (c *Config) AWSEnabled() bool {
	return c.Retry.Backend == "sqs" || c.Metrics.Backend == "dynamodb" || c.Archive.S3Bucket != ""
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// ShouldRedact defaults to true when unset.
func (c LogConfig) ShouldRedact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// CORSConfig holds allowed origins for the ops API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads and parses the configuration file. A missing file yields the
// defaults so containers can run purely from environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.DedupTTLHours == 0 {
		cfg.Redis.DedupTTLHours = 24 * 7
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/webhooks/sendgrid"
	}
	if cfg.Webhook.Source == "" {
		cfg.Webhook.Source = "sendgrid"
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	}
	if cfg.Webhook.TimestampHeader == "" {
		cfg.Webhook.TimestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
	}
	if cfg.Webhook.FreshnessWindowSeconds == 0 {
		cfg.Webhook.FreshnessWindowSeconds = 600
	}
	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = 5 * 1024 * 1024
	}
	if cfg.Retry.Backend == "" {
		cfg.Retry.Backend = "postgres"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.BaseDelaySeconds == 0 {
		cfg.Retry.BaseDelaySeconds = 30
	}
	if cfg.Retry.MaxDelaySeconds == 0 {
		cfg.Retry.MaxDelaySeconds = 3600
	}
	if cfg.Retry.PollIntervalSeconds == 0 {
		cfg.Retry.PollIntervalSeconds = 30
	}
	if cfg.Retry.BatchSize == 0 {
		cfg.Retry.BatchSize = 20
	}
	if cfg.Retry.StaleAfterMinutes == 0 {
		cfg.Retry.StaleAfterMinutes = 10
	}
	if cfg.Metrics.Backend == "" {
		cfg.Metrics.Backend = "postgres"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "webhook-dead-letter"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-west-2"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SENDGRID_WEBHOOK_VERIFICATION_KEY"); v != "" {
		cfg.Webhook.VerificationKey = v
	}
	if v := os.Getenv("RETRY_SQS_QUEUE_URL"); v != "" {
		cfg.Retry.SQSQueueURL = v
		cfg.Retry.Backend = "sqs"
	}
	if v := os.Getenv("METRICS_DYNAMODB_TABLE"); v != "" {
		cfg.Metrics.DynamoDBTable = v
		cfg.Metrics.Backend = "dynamodb"
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ENDPOINT_URL"); v != "" {
		cfg.AWS.Endpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
