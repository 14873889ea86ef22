package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/backoff"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
	"github.com/ignite/engagement-webhooks/internal/sendgrid"
)

// BatchResult tallies the outcome of one delivery.
type BatchResult struct {
	Received      int    `json:"received"`
	Processed     int    `json:"processed"`
	Skipped       int    `json:"skipped"`
	Errors        int    `json:"errors"`
	RetryTicketID string `json:"retry_ticket_id,omitempty"`
}

// Dependencies wires the service to its stores. Metrics, Retry and Dedup
// are optional.
type Dependencies struct {
	Communications CommunicationRepository
	EventLog       EventLogRepository
	Profiles       ProfileRepository
	Guard          SequenceGuard

	Metrics MetricsRecorder
	Retry   RetryQueue
	Dedup   DedupCache

	// Backoff schedules the first replay of an enqueued ticket.
	Backoff backoff.Policy
	Now     func() time.Time
}

// Service processes webhook deliveries. It holds no per-delivery state and
// is safe for concurrent use.
type Service struct {
	comms    CommunicationRepository
	eventLog EventLogRepository
	profiles ProfileRepository
	guard    SequenceGuard
	metrics  MetricsRecorder
	retry    RetryQueue
	dedup    DedupCache
	backoff  backoff.Policy
	now      func() time.Time
}

// NewService creates a webhook service from its dependencies.
func NewService(deps Dependencies) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	policy := deps.Backoff
	if policy.Base == 0 {
		policy = backoff.DefaultPolicy()
	}
	return &Service{
		comms:    deps.Communications,
		eventLog: deps.EventLog,
		profiles: deps.Profiles,
		guard:    deps.Guard,
		metrics:  deps.Metrics,
		retry:    deps.Retry,
		dedup:    deps.Dedup,
		backoff:  policy,
		now:      now,
	}
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeError
)

// ProcessBatch handles one delivery. Per-event failures are counted and the
// loop continues. A failure that aborts the loop enqueues the whole delivery
// for retry; the result is still returned so the caller can acknowledge.
func (s *Service) ProcessBatch(ctx context.Context, source string, events []domain.Event) BatchResult {
	res := BatchResult{Received: len(events)}
	defer s.recordMetrics(ctx, source, res.Received, &res)

	if err := s.run(ctx, events, &res); err != nil {
		logger.Error("[webhook] batch aborted, enqueueing retry",
			"source", source, "received", res.Received, "processed", res.Processed, "error", err.Error())
		res.RetryTicketID = s.enqueueRetry(ctx, source, events, err)
	}
	return res
}

// Replay re-runs a retry ticket's delivery. Events that were processed
// before the failure are skipped by the dedup gate, including id-less
// inbound events, which are keyed by content. The returned error is non-nil
// when the replay itself aborted.
func (s *Service) Replay(ctx context.Context, t *domain.RetryTicket) (BatchResult, error) {
	events, err := sendgrid.ParseEvents(t.Payload)
	if err != nil {
		return BatchResult{}, fmt.Errorf("replay %s: %w", t.ID, err)
	}

	res := BatchResult{Received: len(events)}
	// Received was counted when the delivery first arrived.
	defer s.recordMetrics(ctx, t.WebhookType, 0, &res)

	if err := s.run(ctx, events, &res); err != nil {
		return res, fmt.Errorf("replay %s: %w", t.ID, err)
	}
	return res, nil
}

// run is the per-event loop. It converts panics and context cancellation
// into ErrBatchAborted.
func (s *Service) run(ctx context.Context, events []domain.Event, res *BatchResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrBatchAborted, r)
		}
	}()

	for i, ev := range events {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("%w: %v after %d of %d events", ErrBatchAborted, cerr, i, len(events))
		}

		out, herr := s.processEvent(ctx, ev)
		switch out {
		case outcomeProcessed:
			res.Processed++
		case outcomeSkipped:
			res.Skipped++
		case outcomeError:
			res.Errors++
			m := ev.Meta()
			logger.Error("[webhook] event failed",
				"event_type", string(m.Type),
				"provider_event_id", m.ProviderEventID,
				"provider_message_id", m.ProviderMessageID,
				"communication_id", m.CommunicationID,
				"user_id", m.UserID,
				"error", herr.Error())
		}
	}
	return nil
}

// processEvent runs dedup, dispatch and the audit append for one event.
func (s *Service) processEvent(ctx context.Context, ev domain.Event) (outcome, error) {
	m := ev.Meta()
	key := dedupKey(m)

	dup, err := s.isDuplicate(ctx, key)
	if err != nil {
		return outcomeError, fmt.Errorf("dedup check: %w", err)
	}
	if dup {
		logger.Debug("[webhook] duplicate event skipped", "provider_event_id", key, "event_type", string(m.Type))
		return outcomeSkipped, nil
	}

	out, entry, err := s.dispatch(ctx, ev)
	if err != nil || out != outcomeProcessed {
		return out, err
	}

	entry.ID = uuid.New().String()
	entry.ProviderEventID = key
	entry.EventType = m.Type
	entry.OccurredAt = s.occurredAt(m)
	if entry.UserID == "" {
		entry.UserID = m.UserID
	}
	if m.ProviderMessageID != "" {
		if entry.Metadata == nil {
			entry.Metadata = map[string]string{}
		}
		entry.Metadata["provider_message_id"] = m.ProviderMessageID
	}

	inserted, err := s.eventLog.Append(ctx, entry)
	if err != nil {
		return outcomeError, fmt.Errorf("append event log: %w", err)
	}
	if !inserted {
		// A concurrent delivery of the same event won the insert.
		return outcomeSkipped, nil
	}
	s.remember(ctx, key)
	return outcomeProcessed, nil
}

// dedupKey is the provider event id. Inbound parse posts carry none, so
// those are keyed by a digest of the canonical JSON element; the retry
// payload re-encodes elements and the digest must survive that.
func dedupKey(m domain.EventMeta) string {
	if m.ProviderEventID != "" {
		return m.ProviderEventID
	}
	if len(m.Raw) == 0 {
		return ""
	}

	raw := []byte(m.Raw)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil {
		if canonical, err := json.Marshal(v); err == nil {
			raw = canonical
		}
	}
	sum := sha256.Sum256(raw)
	return "raw:" + hex.EncodeToString(sum[:])
}

// isDuplicate consults the cache first, then the audit log. An empty key
// cannot be deduplicated and is never a duplicate.
func (s *Service) isDuplicate(ctx context.Context, providerEventID string) (bool, error) {
	if providerEventID == "" {
		return false, nil
	}
	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, providerEventID)
		if err != nil {
			logger.Warn("[webhook] dedup cache unavailable, falling back to event log", "error", err.Error())
		} else if seen {
			return true, nil
		}
	}
	return s.eventLog.Contains(ctx, providerEventID)
}

func (s *Service) remember(ctx context.Context, providerEventID string) {
	if s.dedup == nil || providerEventID == "" {
		return
	}
	if err := s.dedup.Remember(ctx, providerEventID); err != nil {
		logger.Warn("[webhook] dedup cache write failed", "provider_event_id", providerEventID, "error", err.Error())
	}
}

func (s *Service) occurredAt(m domain.EventMeta) time.Time {
	if m.OccurredAt.IsZero() {
		return s.now().UTC()
	}
	return m.OccurredAt
}

func (s *Service) enqueueRetry(ctx context.Context, source string, events []domain.Event, cause error) string {
	if s.retry == nil {
		logger.Error("[webhook] no retry queue configured, delivery dropped", "source", source, "events", len(events))
		return ""
	}
	payload, err := sendgrid.MarshalBatch(events)
	if err != nil {
		logger.Error("[webhook] failed to encode retry payload", "source", source, "error", err.Error())
		return ""
	}

	now := s.now().UTC()
	ticket := &domain.RetryTicket{
		ID:            uuid.New().String(),
		WebhookType:   source,
		Payload:       payload,
		Error:         cause.Error(),
		Status:        domain.RetryPending,
		NextAttemptAt: now.Add(s.backoff.Delay(1)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The request context may be the reason the batch aborted.
	id, err := s.retry.Enqueue(context.WithoutCancel(ctx), ticket)
	if err != nil {
		logger.Error("[webhook] failed to enqueue retry ticket", "source", source, "ticket_id", ticket.ID, "error", err.Error())
		return ""
	}
	logger.Info("[webhook] retry ticket enqueued", "source", source, "ticket_id", id, "events", len(events))
	return id
}

func (s *Service) recordMetrics(ctx context.Context, source string, received int, res *BatchResult) {
	if s.metrics == nil {
		return
	}
	m := domain.WebhookMetrics{
		WebhookType: source,
		Day:         s.now().UTC().Truncate(24 * time.Hour),
		Received:    received,
		Processed:   res.Processed,
		Skipped:     res.Skipped,
		Failed:      res.Errors,
	}
	if err := s.metrics.RecordMetrics(context.WithoutCancel(ctx), m); err != nil {
		logger.Warn("[webhook] failed to record metrics", "source", source, "error", err.Error())
	}
}

// isNotFound treats ErrNotFound as an absent record rather than a failure.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
