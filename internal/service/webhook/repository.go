package webhook

import (
	"context"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// CommunicationRepository stores email communication records. Lookups
// return ErrNotFound when nothing matches.
type CommunicationRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Communication, error)
	FindByProviderMessageID(ctx context.Context, messageID string) (*domain.Communication, error)

	// FindLatestSent returns the most recently created sent-direction record
	// from userID to toEmail.
	FindLatestSent(ctx context.Context, userID, toEmail string) (*domain.Communication, error)

	// Update applies u atomically: status only advances and timestamps are
	// only set when still null.
	Update(ctx context.Context, id string, u domain.CommunicationUpdate) error

	Insert(ctx context.Context, c *domain.Communication) error
}

// EventLogRepository is the append-only audit trail. It doubles as the
// dedup store, keyed by provider event id.
type EventLogRepository interface {
	Contains(ctx context.Context, providerEventID string) (bool, error)

	// Append writes the entry. It reports false without error when an entry
	// with the same provider event id already exists.
	Append(ctx context.Context, e *domain.EventLogEntry) (bool, error)
}

// ProfileRepository resolves the user that owns an inbound mailbox.
type ProfileRepository interface {
	// FindByEmailLocalPart matches the part before '@' case-insensitively.
	FindByEmailLocalPart(ctx context.Context, localPart string) (*domain.Profile, error)
}

// SequenceGuard suppresses contacts and cancels their sequence enrollments.
type SequenceGuard interface {
	SuppressAndCancel(ctx context.Context, userID, email string, reason domain.SuppressionReason) error
	CancelActiveSequences(ctx context.Context, userID, email string, reason domain.CancelReason) (int64, error)
	CancelEnrollment(ctx context.Context, enrollmentID string, reason domain.CancelReason) (bool, error)
}

// MetricsRecorder adds a delivery's counters to the per-day totals.
type MetricsRecorder interface {
	RecordMetrics(ctx context.Context, m domain.WebhookMetrics) error
}

// RetryQueue accepts deliveries for later replay and returns the ticket id.
type RetryQueue interface {
	Enqueue(ctx context.Context, t *domain.RetryTicket) (string, error)
}

// DedupCache is an optional fast path in front of EventLogRepository.Contains.
type DedupCache interface {
	Seen(ctx context.Context, providerEventID string) (bool, error)
	Remember(ctx context.Context, providerEventID string) error
}
