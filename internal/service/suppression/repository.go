package suppression

import (
	"context"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// Repository defines the data access contract for the suppression list.
type Repository interface {
	// IsSuppressed returns true if the email is suppressed for the user.
	IsSuppressed(ctx context.Context, userID, email string) (bool, error)

	// Suppress adds an email to the suppression list. If it already exists,
	// the existing record is preserved (idempotent). Reports whether a row
	// was inserted.
	Suppress(ctx context.Context, s *domain.Suppression) (bool, error)

	// Count returns the number of suppressed emails for a user.
	Count(ctx context.Context, userID string) (int, error)
}

// EnrollmentRepository is the slice of sequence enrollment storage this
// package needs. Both methods only touch enrollments that are active.
type EnrollmentRepository interface {
	// CancelActive cancels every active enrollment for (userID, email) and
	// returns how many were cancelled.
	CancelActive(ctx context.Context, userID, email string, reason domain.CancelReason) (int64, error)

	// Cancel cancels one enrollment if it is still active.
	Cancel(ctx context.Context, enrollmentID string, reason domain.CancelReason) (bool, error)
}
