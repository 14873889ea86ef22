package webhook

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
)

// dispatch routes an event to its handler. A processed outcome always comes
// with an audit entry for processEvent to complete and append.
func (s *Service) dispatch(ctx context.Context, ev domain.Event) (outcome, *domain.EventLogEntry, error) {
	switch e := ev.(type) {
	case domain.StatusEvent:
		return s.applyUpdate(ctx, e.EventMeta,
			domain.CommunicationUpdate{Status: statusFor(e.Type)},
			metadata("response", e.Response, "attempt", e.Attempt), nil)

	case domain.OpenEvent:
		at := s.occurredAt(e.EventMeta)
		return s.applyUpdate(ctx, e.EventMeta,
			domain.CommunicationUpdate{Status: domain.StatusOpened, OpenedAt: &at},
			metadata("user_agent", e.UserAgent, "ip", e.IP), nil)

	case domain.ClickEvent:
		at := s.occurredAt(e.EventMeta)
		return s.applyUpdate(ctx, e.EventMeta,
			domain.CommunicationUpdate{Status: domain.StatusClicked, ClickedAt: &at},
			metadata("url", e.URL, "user_agent", e.UserAgent, "ip", e.IP), nil)

	case domain.BounceEvent:
		hard := e.IsHard()
		var effect sideEffect
		if hard {
			effect = s.suppressEffect(domain.ReasonHardBounce)
		}
		return s.applyUpdate(ctx, e.EventMeta,
			domain.CommunicationUpdate{Status: domain.StatusFailed},
			metadata("bounce_classification", e.Classification, "type", e.BounceType,
				"reason", e.Reason, "status", e.Status, "hard", strconv.FormatBool(hard)),
			effect)

	case domain.SpamReportEvent:
		return s.applyUpdate(ctx, e.EventMeta,
			domain.CommunicationUpdate{Status: domain.StatusComplained},
			nil, s.suppressEffect(domain.ReasonComplaint))

	case domain.UnsubscribeEvent:
		return s.applyUpdate(ctx, e.EventMeta,
			domain.CommunicationUpdate{Status: domain.StatusUnsubscribed},
			metadata("asm_group_id", e.GroupID), s.suppressEffect(domain.ReasonUnsubscribe))

	case domain.ResubscribeEvent:
		logger.Info("[webhook] group resubscribe received", "user_id", e.UserID, "email", e.Email, "asm_group_id", e.GroupID)
		return outcomeProcessed, &domain.EventLogEntry{
			CommunicationID: e.CommunicationID,
			Metadata:        metadata("asm_group_id", e.GroupID),
		}, nil

	case domain.InboundEvent:
		return s.handleInbound(ctx, e)

	default:
		m := ev.Meta()
		logger.Info("[webhook] unhandled event type skipped", "event_type", string(m.Type), "provider_event_id", m.ProviderEventID)
		return outcomeSkipped, nil, nil
	}
}

// sideEffect runs after the record update with the contact the event is
// about.
type sideEffect func(ctx context.Context, userID, email string) error

func (s *Service) suppressEffect(reason domain.SuppressionReason) sideEffect {
	return func(ctx context.Context, userID, email string) error {
		return s.guard.SuppressAndCancel(ctx, userID, email, reason)
	}
}

// applyUpdate resolves the record, applies u, then runs effect for the
// contact. Unresolved events are skipped unless the effect could run.
func (s *Service) applyUpdate(ctx context.Context, m domain.EventMeta, u domain.CommunicationUpdate, md map[string]string, effect sideEffect) (outcome, *domain.EventLogEntry, error) {
	rec, err := s.resolve(ctx, m)
	if err != nil {
		return outcomeError, nil, fmt.Errorf("resolve record: %w", err)
	}

	entry := &domain.EventLogEntry{Metadata: md}
	userID, email := m.UserID, m.Email

	if rec != nil {
		if err := s.comms.Update(ctx, rec.ID, u); err != nil {
			return outcomeError, nil, fmt.Errorf("update communication %s: %w", rec.ID, err)
		}
		entry.CommunicationID = rec.ID
		if userID == "" {
			userID = rec.UserID
		}
		if email == "" {
			email = rec.ToEmail
		}
		entry.UserID = userID
	}

	ranEffect := false
	if effect != nil && userID != "" && email != "" {
		if err := effect(ctx, userID, email); err != nil {
			return outcomeError, nil, fmt.Errorf("suppress %s: %w", string(m.Type), err)
		}
		ranEffect = true
	}

	if rec == nil && !ranEffect {
		logger.Debug("[webhook] no matching communication, event skipped",
			"event_type", string(m.Type),
			"provider_event_id", m.ProviderEventID,
			"provider_message_id", m.ProviderMessageID,
			"communication_id", m.CommunicationID)
		return outcomeSkipped, nil, nil
	}
	return outcomeProcessed, entry, nil
}

// resolve finds the record an event refers to: the internal communication
// id first, then the provider message id (full, then prefix), then the
// latest sent record for the user and recipient. Returns nil when nothing
// matches.
func (s *Service) resolve(ctx context.Context, m domain.EventMeta) (*domain.Communication, error) {
	if m.CommunicationID != "" {
		rec, err := s.comms.FindByID(ctx, m.CommunicationID)
		if err == nil {
			return rec, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}

	for _, id := range m.MessageIDCandidates() {
		rec, err := s.comms.FindByProviderMessageID(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}

	if m.UserID != "" && m.Email != "" {
		rec, err := s.comms.FindLatestSent(ctx, m.UserID, m.Email)
		if err == nil {
			return rec, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	return nil, nil
}

func statusFor(t domain.EventType) domain.CommunicationStatus {
	switch t {
	case domain.EventProcessed:
		return domain.StatusProcessed
	case domain.EventDeferred:
		return domain.StatusDeferred
	default:
		return domain.StatusDelivered
	}
}

// metadata builds an audit metadata map from key/value pairs, dropping
// empty values.
func metadata(kv ...string) map[string]string {
	md := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			md[kv[i]] = kv[i+1]
		}
	}
	return md
}
