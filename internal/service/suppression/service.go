package suppression

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
)

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo        Repository
	enrollments EnrollmentRepository
}

// NewService creates a suppression service backed by the given repositories.
func NewService(repo Repository, enrollments EnrollmentRepository) *Service {
	return &Service{repo: repo, enrollments: enrollments}
}

// NormalizeEmail is the key form used for suppressions and enrollments.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsSuppressed checks whether an email address should be blocked from sending.
func (s *Service) IsSuppressed(ctx context.Context, userID, email string) (bool, error) {
	return s.repo.IsSuppressed(ctx, userID, NormalizeEmail(email))
}

// Suppress adds an email to the user's suppression list. Idempotent: if the
// email is already suppressed, the existing record is preserved.
func (s *Service) Suppress(ctx context.Context, userID, email string, reason domain.SuppressionReason) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return false, ErrEmailMissing
	}

	hash := md5.Sum([]byte(email))
	entry := &domain.Suppression{
		UserID:  userID,
		Email:   email,
		MD5Hash: hex.EncodeToString(hash[:]),
		Reason:  reason,
		Source:  domain.SourceESPWebhook,
	}

	inserted, err := s.repo.Suppress(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("suppress: %w", err)
	}
	return inserted, nil
}

// CancelActiveSequences cancels every active enrollment for the contact.
func (s *Service) CancelActiveSequences(ctx context.Context, userID, email string, reason domain.CancelReason) (int64, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return 0, ErrEmailMissing
	}
	n, err := s.enrollments.CancelActive(ctx, userID, email, reason)
	if err != nil {
		return 0, fmt.Errorf("cancel active sequences: %w", err)
	}
	return n, nil
}

// CancelEnrollment cancels a single enrollment if it is active.
func (s *Service) CancelEnrollment(ctx context.Context, enrollmentID string, reason domain.CancelReason) (bool, error) {
	if enrollmentID == "" {
		return false, nil
	}
	ok, err := s.enrollments.Cancel(ctx, enrollmentID, reason)
	if err != nil {
		return false, fmt.Errorf("cancel enrollment %s: %w", enrollmentID, err)
	}
	return ok, nil
}

// SuppressAndCancel records the suppression and cancels the contact's active
// sequences. The two always run together; calling it again is a no-op.
func (s *Service) SuppressAndCancel(ctx context.Context, userID, email string, reason domain.SuppressionReason) error {
	inserted, err := s.Suppress(ctx, userID, email, reason)
	if err != nil {
		return err
	}
	cancelled, err := s.CancelActiveSequences(ctx, userID, email, domain.CancelReasonFor(reason))
	if err != nil {
		return err
	}
	if inserted || cancelled > 0 {
		logger.Info("[suppression] contact suppressed",
			"user_id", userID, "email", email, "reason", string(reason),
			"new_entry", inserted, "enrollments_cancelled", cancelled)
	}
	return nil
}

// Count returns the number of suppressed emails for a user.
func (s *Service) Count(ctx context.Context, userID string) (int, error) {
	return s.repo.Count(ctx, userID)
}
