package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/service/webhook"
)

// CommunicationRepo implements webhook.CommunicationRepository against PostgreSQL.
type CommunicationRepo struct{ db *sql.DB }

// NewCommunicationRepo creates a Postgres-backed communication repository.
func NewCommunicationRepo(db *sql.DB) *CommunicationRepo { return &CommunicationRepo{db: db} }

const communicationCols = `id, user_id, direction, status, from_email, to_email,
	COALESCE(subject, ''), COALESCE(body, ''), COALESCE(sendgrid_message_id, ''),
	COALESCE(sequence_enrollment_id, ''), opened_at, clicked_at, replied_at,
	created_at, updated_at`

func (r *CommunicationRepo) FindByID(ctx context.Context, id string) (*domain.Communication, error) {
	return r.findOne(ctx, "find communication",
		`SELECT `+communicationCols+` FROM email_communications WHERE id = $1`, id)
}

func (r *CommunicationRepo) FindByProviderMessageID(ctx context.Context, messageID string) (*domain.Communication, error) {
	return r.findOne(ctx, "find communication by message id",
		`SELECT `+communicationCols+` FROM email_communications
		WHERE sendgrid_message_id = $1
		ORDER BY created_at DESC LIMIT 1`, messageID)
}

func (r *CommunicationRepo) FindLatestSent(ctx context.Context, userID, toEmail string) (*domain.Communication, error) {
	return r.findOne(ctx, "find latest sent communication",
		`SELECT `+communicationCols+` FROM email_communications
		WHERE user_id = $1 AND lower(to_email) = lower($2) AND direction = 'sent'
		ORDER BY created_at DESC LIMIT 1`, userID, toEmail)
}

func (r *CommunicationRepo) findOne(ctx context.Context, op, query string, args ...interface{}) (*domain.Communication, error) {
	var (
		c                           domain.Communication
		openedAt, clickedAt, replAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&c.ID, &c.UserID, &c.Direction, &c.Status, &c.FromEmail, &c.ToEmail,
		&c.Subject, &c.Body, &c.ProviderMessageID, &c.EnrollmentID,
		&openedAt, &clickedAt, &replAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, webhook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.OpenedAt = nullTimePtr(openedAt)
	c.ClickedAt = nullTimePtr(clickedAt)
	c.RepliedAt = nullTimePtr(replAt)
	return &c, nil
}

// Update applies u in a single statement. The status moves only when the
// stored status is one of the new status's predecessors, and each timestamp
// is only written while still NULL, so concurrent deliveries cannot regress
// a record.
func (r *CommunicationRepo) Update(ctx context.Context, id string, u domain.CommunicationUpdate) error {
	if u.IsEmpty() {
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_communications SET
			status = CASE WHEN $2::text <> '' AND status = ANY($3) THEN $2::text ELSE status END,
			opened_at = COALESCE(opened_at, $4),
			clicked_at = COALESCE(clicked_at, $5),
			replied_at = COALESCE(replied_at, $6),
			updated_at = NOW()
		WHERE id = $1
	`, id, string(u.Status), pq.Array(u.Status.Predecessors()), u.OpenedAt, u.ClickedAt, u.RepliedAt)
	if err != nil {
		return fmt.Errorf("update communication: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *CommunicationRepo) Insert(ctx context.Context, c *domain.Communication) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_communications
			(id, user_id, direction, status, from_email, to_email, subject, body,
			 sendgrid_message_id, sequence_enrollment_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12)
	`, c.ID, c.UserID, c.Direction, c.Status, c.FromEmail, c.ToEmail, c.Subject, c.Body,
		c.ProviderMessageID, c.EnrollmentID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert communication: %w", err)
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
