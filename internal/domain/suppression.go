package domain

import "time"

// SuppressionReason enumerates why an email was suppressed.
type SuppressionReason string

const (
	ReasonHardBounce  SuppressionReason = "hard_bounce"
	ReasonComplaint   SuppressionReason = "spam_complaint"
	ReasonUnsubscribe SuppressionReason = "unsubscribe"
)

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceESPWebhook SuppressionSource = "esp_webhook"
)

// Suppression is one do-not-email entry, unique per (UserID, Email).
type Suppression struct {
	ID        string            `json:"id" db:"id"`
	UserID    string            `json:"user_id" db:"user_id"`
	Email     string            `json:"email" db:"email"`
	MD5Hash   string            `json:"md5_hash" db:"email_md5"`
	Reason    SuppressionReason `json:"reason" db:"reason"`
	Source    SuppressionSource `json:"source" db:"source"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
