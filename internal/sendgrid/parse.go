package sendgrid

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// ErrMalformedPayload is returned for bodies that are not a JSON object or
// an array of JSON objects. Such deliveries are rejected and never retried.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// ParseEvents decodes a delivery body into events, preserving order. A bare
// object is treated as a one-element batch.
func ParseEvents(body []byte) ([]domain.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	var elems []json.RawMessage
	switch body[0] {
	case '{':
		if !json.Valid(body) {
			return nil, fmt.Errorf("%w: invalid JSON object", ErrMalformedPayload)
		}
		elems = []json.RawMessage{body}
	case '[':
		if err := json.Unmarshal(body, &elems); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	default:
		return nil, fmt.Errorf("%w: expected object or array", ErrMalformedPayload)
	}

	events := make([]domain.Event, 0, len(elems))
	for i, elem := range elems {
		ev, err := parseEvent(elem)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedPayload, i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseEvent(elem json.RawMessage) (domain.Event, error) {
	elem = bytes.TrimSpace(elem)
	if len(elem) == 0 || elem[0] != '{' {
		return nil, errors.New("not an object")
	}
	var r rawEvent
	if err := json.Unmarshal(elem, &r); err != nil {
		return nil, err
	}

	meta := domain.EventMeta{
		Type:              domain.EventType(strings.ToLower(strings.TrimSpace(string(r.Event)))),
		ProviderEventID:   strings.TrimSpace(string(r.SGEventID)),
		ProviderMessageID: strings.TrimSpace(string(r.SGMessageID)),
		CommunicationID:   firstNonEmpty(string(r.CommunicationID), string(r.InternalCommunicationID)),
		UserID:            strings.TrimSpace(string(r.UserID)),
		Email:             strings.TrimSpace(string(r.Email)),
		OccurredAt:        time.Time(r.Timestamp),
		Raw:               append(json.RawMessage(nil), elem...),
	}

	// Inbound parse payloads carry a recipient and usually no event type.
	if strings.TrimSpace(string(r.To)) != "" {
		meta.Type = domain.EventInbound
		return domain.InboundEvent{
			EventMeta: meta,
			To:        string(r.To),
			From:      string(r.From),
			Subject:   string(r.Subject),
			Text:      string(r.Text),
			HTML:      string(r.HTML),
		}, nil
	}

	switch meta.Type {
	case domain.EventProcessed, domain.EventDeferred, domain.EventDelivered:
		return domain.StatusEvent{EventMeta: meta, Response: string(r.Response), Attempt: string(r.Attempt)}, nil
	case domain.EventOpen:
		return domain.OpenEvent{EventMeta: meta, UserAgent: string(r.UserAgent), IP: string(r.IP)}, nil
	case domain.EventClick:
		return domain.ClickEvent{EventMeta: meta, URL: string(r.URL), UserAgent: string(r.UserAgent), IP: string(r.IP)}, nil
	case domain.EventBounce, domain.EventDropped:
		return domain.BounceEvent{
			EventMeta:      meta,
			Classification: string(r.BounceClassification),
			BounceType:     string(r.Type),
			Reason:         string(r.Reason),
			Status:         string(r.Status),
		}, nil
	case domain.EventSpamReport:
		return domain.SpamReportEvent{EventMeta: meta}, nil
	case domain.EventUnsubscribe, domain.EventGroupUnsubscribe:
		return domain.UnsubscribeEvent{EventMeta: meta, GroupID: string(r.ASMGroupID)}, nil
	case domain.EventGroupResubscribe:
		return domain.ResubscribeEvent{EventMeta: meta, GroupID: string(r.ASMGroupID)}, nil
	default:
		return domain.UnknownEvent{EventMeta: meta}, nil
	}
}

// MarshalBatch re-encodes events as a JSON array of their original elements,
// the form stored in retry tickets. Events without a raw element are encoded
// from their common fields.
func MarshalBatch(events []domain.Event) (json.RawMessage, error) {
	elems := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		m := ev.Meta()
		if len(m.Raw) > 0 {
			elems = append(elems, m.Raw)
			continue
		}
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		elems = append(elems, b)
	}
	return json.Marshal(elems)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
