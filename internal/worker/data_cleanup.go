package worker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
)

// Retention for finished retry tickets. Dead letters are kept longer for
// manual inspection; they are also archived to S3 when a bucket is set.
const (
	DefaultCleanupInterval = time.Hour

	succeededRetention  = 7 * 24 * time.Hour
	deadLetterRetention = 30 * 24 * time.Hour

	// cleanupBatchSize limits each DELETE to avoid long row locks.
	cleanupBatchSize = 10000
)

// DataCleanupWorker periodically deletes finished retry tickets.
type DataCleanupWorker struct {
	db       *sql.DB
	interval time.Duration
	pause    time.Duration
}

// NewDataCleanupWorker creates a cleanup worker. A zero interval uses
// DefaultCleanupInterval.
func NewDataCleanupWorker(db *sql.DB, interval time.Duration) *DataCleanupWorker {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &DataCleanupWorker{db: db, interval: interval, pause: 100 * time.Millisecond}
}

// Start runs a cleanup immediately and then every interval. It blocks until
// ctx is cancelled.
func (dc *DataCleanupWorker) Start(ctx context.Context) {
	logger.Info("[DataCleanup] starting", "interval", dc.interval.String(), "batch_size", cleanupBatchSize)

	dc.Cleanup(ctx)

	ticker := time.NewTicker(dc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[DataCleanup] stopping")
			return
		case <-ticker.C:
			dc.Cleanup(ctx)
		}
	}
}

// Cleanup runs one retention pass and returns the rows deleted.
func (dc *DataCleanupWorker) Cleanup(ctx context.Context) int64 {
	start := time.Now()

	succeeded := dc.batchDelete(ctx, "succeeded", `
		DELETE FROM webhook_retry_tickets
		WHERE id IN (
			SELECT id FROM webhook_retry_tickets
			WHERE status = 'succeeded' AND updated_at < NOW() - make_interval(secs => $2)
			LIMIT $1
		)`, succeededRetention)

	dead := dc.batchDelete(ctx, "dead_letter", `
		DELETE FROM webhook_retry_tickets
		WHERE id IN (
			SELECT id FROM webhook_retry_tickets
			WHERE status = 'dead_letter' AND updated_at < NOW() - make_interval(secs => $2)
			LIMIT $1
		)`, deadLetterRetention)

	if succeeded+dead > 0 {
		logger.Info("[DataCleanup] removed finished retry tickets",
			"succeeded", succeeded, "dead_letter", dead, "took", time.Since(start).Round(time.Millisecond).String())
	}
	return succeeded + dead
}

// batchDelete repeats query until it affects no rows. A missing table is
// logged once and skipped so the worker survives running before migrations.
func (dc *DataCleanupWorker) batchDelete(ctx context.Context, label, query string, olderThan time.Duration) int64 {
	var total int64
	for {
		if ctx.Err() != nil {
			return total
		}

		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := dc.db.ExecContext(queryCtx, query, cleanupBatchSize, olderThan.Seconds())
		cancel()
		if err != nil {
			if isUndefinedTable(err) {
				logger.Warn("[DataCleanup] webhook_retry_tickets does not exist, skipping")
				return total
			}
			logger.Error("[DataCleanup] delete failed", "status", label, "error", err.Error())
			return total
		}

		affected, _ := res.RowsAffected()
		if affected == 0 {
			return total
		}
		total += affected

		if affected < cleanupBatchSize {
			return total
		}
		time.Sleep(dc.pause)
	}
}

// isUndefinedTable matches Postgres error 42P01.
func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}
