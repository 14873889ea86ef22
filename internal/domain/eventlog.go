package domain

import "time"

// EventLogEntry is an immutable audit row, one per processed provider event.
// ProviderEventID is the dedup key and is unique when present.
type EventLogEntry struct {
	ID              string            `json:"id"`
	ProviderEventID string            `json:"provider_event_id,omitempty"`
	EventType       EventType         `json:"event_type"`
	CommunicationID string            `json:"communication_id,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}
