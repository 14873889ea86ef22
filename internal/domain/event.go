package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType is the provider's event discriminator.
type EventType string

const (
	EventProcessed        EventType = "processed"
	EventDeferred         EventType = "deferred"
	EventDelivered        EventType = "delivered"
	EventOpen             EventType = "open"
	EventClick            EventType = "click"
	EventBounce           EventType = "bounce"
	EventDropped          EventType = "dropped"
	EventSpamReport       EventType = "spamreport"
	EventUnsubscribe      EventType = "unsubscribe"
	EventGroupUnsubscribe EventType = "group_unsubscribe"
	EventGroupResubscribe EventType = "group_resubscribe"
	EventInbound          EventType = "inbound"
)

// Event is one normalized provider event. The concrete type carries the
// fields specific to its event type.
type Event interface {
	Meta() EventMeta
}

// EventMeta holds the fields common to every provider event. Raw is the
// original JSON element, kept so a delivery can be replayed verbatim.
type EventMeta struct {
	Type              EventType       `json:"event"`
	ProviderEventID   string          `json:"sg_event_id,omitempty"`
	ProviderMessageID string          `json:"sg_message_id,omitempty"`
	CommunicationID   string          `json:"communication_id,omitempty"`
	UserID            string          `json:"user_id,omitempty"`
	Email             string          `json:"email,omitempty"`
	OccurredAt        time.Time       `json:"-"`
	Raw               json.RawMessage `json:"-"`
}

// Meta implements Event.
func (m EventMeta) Meta() EventMeta { return m }

// StatusEvent is a processed, deferred, or delivered notification.
type StatusEvent struct {
	EventMeta
	Response string
	Attempt  string
}

// OpenEvent is an open notification.
type OpenEvent struct {
	EventMeta
	UserAgent string
	IP        string
}

// ClickEvent is a link click notification.
type ClickEvent struct {
	EventMeta
	URL       string
	UserAgent string
	IP        string
}

// BounceEvent covers both bounce and dropped notifications.
type BounceEvent struct {
	EventMeta
	Classification string
	BounceType     string
	Reason         string
	Status         string
}

// IsHard reports whether the bounce is a permanent delivery failure.
func (e BounceEvent) IsHard() bool {
	switch strings.ToLower(strings.TrimSpace(e.Classification)) {
	case "hard", "invalid", "invalid address":
		return true
	}
	return e.Type == EventBounce && strings.EqualFold(e.BounceType, "bounce")
}

// SpamReportEvent is a spam complaint.
type SpamReportEvent struct {
	EventMeta
}

// UnsubscribeEvent is a global or group unsubscribe.
type UnsubscribeEvent struct {
	EventMeta
	GroupID string
}

// ResubscribeEvent is a group resubscribe. It is informational only.
type ResubscribeEvent struct {
	EventMeta
	GroupID string
}

// InboundEvent is an inbound email relayed by the provider.
type InboundEvent struct {
	EventMeta
	To      string
	From    string
	Subject string
	Text    string
	HTML    string
}

// UnknownEvent is any event type the service does not handle.
type UnknownEvent struct {
	EventMeta
}

// MessageIDCandidates returns the provider message ids to try when matching
// a stored record: the full id, then the part before the first '.', which is
// the id the provider returned at send time.
func (m EventMeta) MessageIDCandidates() []string {
	id := strings.TrimSpace(m.ProviderMessageID)
	if id == "" {
		return nil
	}
	if i := strings.IndexByte(id, '.'); i > 0 {
		return []string{id, id[:i]}
	}
	return []string{id}
}
