package domain

import "time"

// EnrollmentStatus is the lifecycle state of a sequence enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// CancelReason records why an enrollment was moved to cancelled.
type CancelReason string

const (
	CancelHardBounce  CancelReason = "hard_bounce"
	CancelComplaint   CancelReason = "spam_complaint"
	CancelUnsubscribe CancelReason = "unsubscribe"
	CancelReplied     CancelReason = "replied"
)

// CancelReasonFor maps a suppression reason to the matching cancel reason.
func CancelReasonFor(r SuppressionReason) CancelReason {
	switch r {
	case ReasonHardBounce:
		return CancelHardBounce
	case ReasonComplaint:
		return CancelComplaint
	default:
		return CancelUnsubscribe
	}
}

// Enrollment is a contact's membership in an automated outreach sequence.
// It is owned by the sequence scheduler; this service only cancels.
type Enrollment struct {
	ID           string           `json:"id" db:"id"`
	UserID       string           `json:"user_id" db:"user_id"`
	SequenceID   string           `json:"sequence_id" db:"sequence_id"`
	ContactEmail string           `json:"contact_email" db:"contact_email"`
	Status       EnrollmentStatus `json:"status" db:"status"`
	CancelReason CancelReason     `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CancelledAt  *time.Time       `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}
