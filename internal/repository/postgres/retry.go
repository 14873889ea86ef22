package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// RetryRepo stores webhook retry tickets. It is both the webhook service's
// RetryQueue and the replayer's work source.
type RetryRepo struct{ db *sql.DB }

// NewRetryRepo creates a Postgres-backed retry ticket store.
func NewRetryRepo(db *sql.DB) *RetryRepo { return &RetryRepo{db: db} }

const retryCols = `id, webhook_type, payload, COALESCE(error, ''), attempts, status, next_attempt_at, created_at, updated_at`

// Enqueue stores a pending ticket and returns its id.
func (r *RetryRepo) Enqueue(ctx context.Context, t *domain.RetryTicket) (string, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = domain.RetryPending
	}
	if t.NextAttemptAt.IsZero() {
		t.NextAttemptAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_retry_tickets
			(id, webhook_type, payload, error, attempts, status, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, t.ID, t.WebhookType, []byte(t.Payload), t.Error, t.Attempts, t.Status, t.NextAttemptAt)
	if err != nil {
		return "", fmt.Errorf("enqueue retry ticket: %w", err)
	}
	return t.ID, nil
}

// ClaimDue moves up to limit due pending tickets to processing and returns
// them. SKIP LOCKED lets several replayers claim disjoint sets.
func (r *RetryRepo) ClaimDue(ctx context.Context, limit int) ([]domain.RetryTicket, error) {
	return r.query(ctx, "claim retry tickets", `
		UPDATE webhook_retry_tickets SET
			status = 'processing', attempts = attempts + 1, claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_retry_tickets
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+retryCols, limit)
}

// MarkSucceeded closes a ticket after a clean replay.
func (r *RetryRepo) MarkSucceeded(ctx context.Context, id string) error {
	return r.exec(ctx, "mark retry succeeded",
		`UPDATE webhook_retry_tickets SET status = 'succeeded', updated_at = NOW() WHERE id = $1`, id)
}

// Reschedule returns a ticket to pending with a new due time.
func (r *RetryRepo) Reschedule(ctx context.Context, id string, next time.Time, errMsg string) error {
	return r.exec(ctx, "reschedule retry",
		`UPDATE webhook_retry_tickets SET status = 'pending', next_attempt_at = $2, error = $3, updated_at = NOW() WHERE id = $1`,
		id, next, errMsg)
}

// DeadLetter parks a ticket that exhausted its attempts.
func (r *RetryRepo) DeadLetter(ctx context.Context, id, errMsg string) error {
	return r.exec(ctx, "dead-letter retry",
		`UPDATE webhook_retry_tickets SET status = 'dead_letter', error = $2, updated_at = NOW() WHERE id = $1`,
		id, errMsg)
}

// RecoverStale resets tickets left in processing by a crashed replayer.
func (r *RetryRepo) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_retry_tickets SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND claimed_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("recover stale retries: %w", err)
	}
	return res.RowsAffected()
}

// ListPending returns pending and processing tickets, soonest first.
func (r *RetryRepo) ListPending(ctx context.Context, limit int) ([]domain.RetryTicket, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, "list retry tickets", `
		SELECT `+retryCols+` FROM webhook_retry_tickets
		WHERE status IN ('pending', 'processing')
		ORDER BY next_attempt_at
		LIMIT $1`, limit)
}

func (r *RetryRepo) exec(ctx context.Context, op, query string, args ...interface{}) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RetryRepo) query(ctx context.Context, op, query string, args ...interface{}) ([]domain.RetryTicket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.RetryTicket
	for rows.Next() {
		var (
			t       domain.RetryTicket
			payload []byte
		)
		if err := rows.Scan(&t.ID, &t.WebhookType, &payload, &t.Error, &t.Attempts,
			&t.Status, &t.NextAttemptAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		t.Payload = payload
		out = append(out, t)
	}
	return out, rows.Err()
}
