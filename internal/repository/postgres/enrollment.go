package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// EnrollmentRepo implements suppression.EnrollmentRepository. Both updates
// are guarded by status = 'active' so they never touch paused, completed or
// already-cancelled enrollments.
type EnrollmentRepo struct{ db *sql.DB }

// NewEnrollmentRepo creates a Postgres-backed enrollment repository.
func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

func (r *EnrollmentRepo) CancelActive(ctx context.Context, userID, email string, reason domain.CancelReason) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequence_enrollments
		SET status = 'cancelled', cancel_reason = $3, cancelled_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND lower(contact_email) = $2 AND status = 'active'
	`, userID, email, reason)
	if err != nil {
		return 0, fmt.Errorf("cancel active enrollments: %w", err)
	}
	return res.RowsAffected()
}

func (r *EnrollmentRepo) Cancel(ctx context.Context, enrollmentID string, reason domain.CancelReason) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequence_enrollments
		SET status = 'cancelled', cancel_reason = $2, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, enrollmentID, reason)
	if err != nil {
		return false, fmt.Errorf("cancel enrollment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
