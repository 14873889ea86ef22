package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, userID, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM email_suppressions WHERE user_id = $1 AND email = $2)`,
		userID, email,
	).Scan(&exists)
	return exists, err
}

// Suppress inserts the entry unless (user_id, email) already exists. The
// first reason recorded for a contact is kept.
func (r *SuppressionRepo) Suppress(ctx context.Context, s *domain.Suppression) (bool, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO email_suppressions (id, user_id, email, email_md5, reason, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, email) DO NOTHING
	`, s.ID, s.UserID, s.Email, s.MD5Hash, s.Reason, s.Source)
	if err != nil {
		return false, fmt.Errorf("suppress: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *SuppressionRepo) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_suppressions WHERE user_id = $1`,
		userID,
	).Scan(&n)
	return n, err
}
