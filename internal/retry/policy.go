package retry

import (
	"context"
	"errors"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/backoff"
	"github.com/ignite/engagement-webhooks/internal/sendgrid"
	"github.com/ignite/engagement-webhooks/internal/service/webhook"
)

// DefaultMaxAttempts is how many replays a ticket gets before it is
// dead-lettered.
const DefaultMaxAttempts = 5

// Replayer re-runs a stored delivery.
type Replayer interface {
	Replay(ctx context.Context, t *domain.RetryTicket) (webhook.BatchResult, error)
}

// Archiver stores dead-lettered tickets for manual inspection.
type Archiver interface {
	ArchiveTicket(ctx context.Context, t *domain.RetryTicket) (string, error)
}

// Policy decides what happens to a ticket after a failed replay.
type Policy struct {
	MaxAttempts int
	Backoff     backoff.Policy
}

// Exhausted reports whether a ticket that failed its attempts-th replay
// should be dead-lettered. A payload that no longer parses never will.
func (p Policy) Exhausted(attempts int, err error) bool {
	if errors.Is(err, sendgrid.ErrMalformedPayload) {
		return true
	}
	limit := p.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	return attempts >= limit
}
