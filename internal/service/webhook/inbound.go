package webhook

import (
	"context"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
)

var headerDecoder = new(mime.WordDecoder)

// handleInbound links a reply to the user's outreach. The owning user is
// the profile whose mailbox local part matches the recipient.
func (s *Service) handleInbound(ctx context.Context, e domain.InboundEvent) (outcome, *domain.EventLogEntry, error) {
	to := firstAddress(e.To)
	local := localPart(to)
	if local == "" {
		logger.Warn("[webhook] inbound reply without a usable recipient", "provider_event_id", e.ProviderEventID)
		return outcomeSkipped, nil, nil
	}

	profile, err := s.profiles.FindByEmailLocalPart(ctx, local)
	if isNotFound(err) {
		logger.Info("[webhook] inbound reply for unknown recipient skipped", "to", to)
		return outcomeSkipped, nil, nil
	}
	if err != nil {
		return outcomeError, nil, fmt.Errorf("find profile: %w", err)
	}

	from := strings.ToLower(firstAddress(e.From))
	at := s.occurredAt(e.EventMeta)
	body := e.Text
	if strings.TrimSpace(body) == "" {
		body = e.HTML
	}

	rec := &domain.Communication{
		ID:        uuid.New().String(),
		UserID:    profile.ID,
		Direction: domain.DirectionReceived,
		Status:    domain.StatusReceived,
		FromEmail: from,
		ToEmail:   to,
		Subject:   decodeSubject(e.Subject),
		Body:      body,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := s.comms.Insert(ctx, rec); err != nil {
		return outcomeError, nil, fmt.Errorf("insert received communication: %w", err)
	}

	md := metadata("from", from, "to", to)
	if from != "" {
		repliedTo, err := s.linkReply(ctx, profile.ID, from, at)
		if err != nil {
			return outcomeError, nil, err
		}
		if repliedTo != "" {
			md["replied_to"] = repliedTo
		}
	}

	return outcomeProcessed, &domain.EventLogEntry{
		CommunicationID: rec.ID,
		UserID:          profile.ID,
		Metadata:        md,
	}, nil
}

// linkReply marks the latest sent record to the contact as replied, cancels
// its enrollment, then cancels every other active enrollment for the
// contact. Returns the id of the replied-to record, if any.
func (s *Service) linkReply(ctx context.Context, userID, contact string, at time.Time) (string, error) {
	var repliedTo string

	sent, err := s.comms.FindLatestSent(ctx, userID, contact)
	switch {
	case isNotFound(err):
	case err != nil:
		return "", fmt.Errorf("find latest sent: %w", err)
	default:
		repliedTo = sent.ID
		if err := s.comms.Update(ctx, sent.ID, domain.CommunicationUpdate{RepliedAt: &at}); err != nil {
			return "", fmt.Errorf("mark replied %s: %w", sent.ID, err)
		}
		if sent.EnrollmentID != "" {
			if _, err := s.guard.CancelEnrollment(ctx, sent.EnrollmentID, domain.CancelReplied); err != nil {
				return "", err
			}
		}
	}

	n, err := s.guard.CancelActiveSequences(ctx, userID, contact, domain.CancelReplied)
	if err != nil {
		return "", err
	}
	logger.Info("[webhook] reply linked",
		"user_id", userID, "from", contact, "communication_id", repliedTo, "enrollments_cancelled", n)
	return repliedTo, nil
}

// firstAddress returns the first mailbox in an address list header, or the
// trimmed raw value when it does not parse.
func firstAddress(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if list, err := mail.ParseAddressList(header); err == nil && len(list) > 0 {
		return list[0].Address
	}
	raw := strings.TrimSpace(strings.Split(header, ",")[0])
	if i := strings.LastIndexByte(raw, '<'); i >= 0 {
		raw = strings.TrimSuffix(raw[i+1:], ">")
	}
	return strings.TrimSpace(raw)
}

func localPart(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

func decodeSubject(s string) string {
	decoded, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
