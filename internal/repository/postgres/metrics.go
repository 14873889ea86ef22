package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// MetricsRepo records per-source, per-day webhook counters.
type MetricsRepo struct{ db *sql.DB }

// NewMetricsRepo creates a Postgres-backed metrics recorder.
func NewMetricsRepo(db *sql.DB) *MetricsRepo { return &MetricsRepo{db: db} }

// RecordMetrics adds m's counters to the stored totals for its day.
func (r *MetricsRepo) RecordMetrics(ctx context.Context, m domain.WebhookMetrics) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_metrics (webhook_type, day, received, processed, skipped, failed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (webhook_type, day) DO UPDATE SET
			received = webhook_metrics.received + EXCLUDED.received,
			processed = webhook_metrics.processed + EXCLUDED.processed,
			skipped = webhook_metrics.skipped + EXCLUDED.skipped,
			failed = webhook_metrics.failed + EXCLUDED.failed,
			updated_at = NOW()
	`, m.WebhookType, m.DayKey(), m.Received, m.Processed, m.Skipped, m.Failed)
	if err != nil {
		return fmt.Errorf("record webhook metrics: %w", err)
	}
	return nil
}

// GetMetrics returns every source's counters for one UTC day.
func (r *MetricsRepo) GetMetrics(ctx context.Context, day time.Time) ([]domain.WebhookMetrics, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT webhook_type, day, received, processed, skipped, failed
		FROM webhook_metrics
		WHERE day = $1
		ORDER BY webhook_type
	`, day.UTC().Format(domain.DayLayout))
	if err != nil {
		return nil, fmt.Errorf("get webhook metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookMetrics
	for rows.Next() {
		var m domain.WebhookMetrics
		if err := rows.Scan(&m.WebhookType, &m.Day, &m.Received, &m.Processed, &m.Skipped, &m.Failed); err != nil {
			return nil, fmt.Errorf("scan webhook metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
