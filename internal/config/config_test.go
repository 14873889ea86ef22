package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost/webhooks?sslmode=disable"
  max_open_conns: 40

webhook:
  path: "/hooks/sg"
  verification_key: "test-secret"
  freshness_window_seconds: 300

retry:
  backend: "sqs"
  sqs_queue_url: "https://sqs.us-west-2.amazonaws.com/123/retries"
  max_attempts: 8

metrics:
  backend: "dynamodb"
  dynamodb_table: "webhook-metrics"

log:
  level: "debug"
  redact_pii: false

cors:
  allowed_origins: ["https://ops.example.com"]
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost/webhooks?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 40, cfg.Database.MaxOpenConns)

	assert.Equal(t, "/hooks/sg", cfg.Webhook.Path)
	assert.Equal(t, "test-secret", cfg.Webhook.VerificationKey)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.FreshnessWindow())

	assert.Equal(t, "sqs", cfg.Retry.Backend)
	assert.Equal(t, 8, cfg.Retry.MaxAttempts)
	assert.Equal(t, "dynamodb", cfg.Metrics.Backend)
	assert.True(t, cfg.AWSEnabled())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.ShouldRedact())
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "/webhooks/sendgrid", cfg.Webhook.Path)
	assert.Equal(t, "sendgrid", cfg.Webhook.Source)
	assert.Equal(t, "X-Twilio-Email-Event-Webhook-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, "X-Twilio-Email-Event-Webhook-Timestamp", cfg.Webhook.TimestampHeader)
	assert.Equal(t, 10*time.Minute, cfg.Webhook.FreshnessWindow())
	assert.Equal(t, int64(5*1024*1024), cfg.Webhook.MaxBodyBytes)
	assert.Equal(t, "postgres", cfg.Retry.Backend)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Retry.BaseDelay())
	assert.Equal(t, time.Hour, cfg.Retry.MaxDelay())
	assert.Equal(t, 7*24*time.Hour, cfg.Redis.DedupTTL())
	assert.Equal(t, "postgres", cfg.Metrics.Backend)
	assert.True(t, cfg.Log.ShouldRedact())
	assert.False(t, cfg.AWSEnabled())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("webhook:\n  verification_key: from-file\n"), 0644))

	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SENDGRID_WEBHOOK_VERIFICATION_KEY", "from-env")
	t.Setenv("RETRY_SQS_QUEUE_URL", "https://sqs.example/q")
	t.Setenv("ARCHIVE_S3_BUCKET", "dead-letters")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "from-env", cfg.Webhook.VerificationKey)
	assert.Equal(t, "sqs", cfg.Retry.Backend)
	assert.Equal(t, "https://sqs.example/q", cfg.Retry.SQSQueueURL)
	assert.Equal(t, "dead-letters", cfg.Archive.S3Bucket)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
