package domain

import "time"

// Direction says whether a communication was sent by the user or received
// from a contact.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// CommunicationStatus is the delivery state of an email communication.
type CommunicationStatus string

const (
	StatusSent         CommunicationStatus = "sent"
	StatusReceived     CommunicationStatus = "received"
	StatusProcessed    CommunicationStatus = "processed"
	StatusDeferred     CommunicationStatus = "deferred"
	StatusDelivered    CommunicationStatus = "delivered"
	StatusOpened       CommunicationStatus = "opened"
	StatusClicked      CommunicationStatus = "clicked"
	StatusFailed       CommunicationStatus = "failed"
	StatusUnsubscribed CommunicationStatus = "unsubscribed"
	StatusComplained   CommunicationStatus = "complained"
)

// statusRank orders statuses along the happy path, with the divergent
// terminal states above it. A record only ever moves to a higher rank.
var statusRank = map[CommunicationStatus]int{
	"":                 0,
	StatusSent:         0,
	StatusReceived:     0,
	StatusProcessed:    1,
	StatusDeferred:     2,
	StatusDelivered:    3,
	StatusOpened:       4,
	StatusClicked:      5,
	StatusFailed:       6,
	StatusUnsubscribed: 7,
	StatusComplained:   8,
}

// Rank returns the position of s in the status order. Unknown statuses rank
// highest so they are never overwritten.
func (s CommunicationStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return len(statusRank)
}

// CanAdvanceTo reports whether moving from s to next is forward progress.
func (s CommunicationStatus) CanAdvanceTo(next CommunicationStatus) bool {
	if next == "" {
		return false
	}
	return next.Rank() > s.Rank()
}

// Predecessors lists every known status that may be advanced to s.
func (s CommunicationStatus) Predecessors() []string {
	out := make([]string, 0, len(statusRank))
	for st, r := range statusRank {
		if r < s.Rank() {
			out = append(out, string(st))
		}
	}
	return out
}

// Communication is one stored outbound or inbound email.
type Communication struct {
	ID                string              `json:"id"`
	UserID            string              `json:"user_id"`
	Direction         Direction           `json:"direction"`
	Status            CommunicationStatus `json:"status"`
	FromEmail         string              `json:"from_email"`
	ToEmail           string              `json:"to_email"`
	Subject           string              `json:"subject,omitempty"`
	Body              string              `json:"body,omitempty"`
	ProviderMessageID string              `json:"sendgrid_message_id,omitempty"`
	EnrollmentID      string              `json:"sequence_enrollment_id,omitempty"`
	OpenedAt          *time.Time          `json:"opened_at,omitempty"`
	ClickedAt         *time.Time          `json:"clicked_at,omitempty"`
	RepliedAt         *time.Time          `json:"replied_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// CommunicationUpdate is a partial update. Empty Status and nil timestamps
// leave the stored values alone; timestamps are first-write-wins.
type CommunicationUpdate struct {
	Status    CommunicationStatus
	OpenedAt  *time.Time
	ClickedAt *time.Time
	RepliedAt *time.Time
}

// IsEmpty reports whether the update would change nothing.
func (u CommunicationUpdate) IsEmpty() bool {
	return u.Status == "" && u.OpenedAt == nil && u.ClickedAt == nil && u.RepliedAt == nil
}

// Apply folds u into c following the advance-only and first-write-wins
// rules. Storage implementations must produce the same result atomically.
func (c *Communication) Apply(u CommunicationUpdate) {
	if c.Status.CanAdvanceTo(u.Status) {
		c.Status = u.Status
	}
	if c.OpenedAt == nil && u.OpenedAt != nil {
		t := *u.OpenedAt
		c.OpenedAt = &t
	}
	if c.ClickedAt == nil && u.ClickedAt != nil {
		t := *u.ClickedAt
		c.ClickedAt = &t
	}
	if c.RepliedAt == nil && u.RepliedAt != nil {
		t := *u.RepliedAt
		c.RepliedAt = &t
	}
}
