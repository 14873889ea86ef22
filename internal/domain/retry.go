package domain

import (
	"encoding/json"
	"time"
)

// RetryStatus is the lifecycle state of a webhook retry ticket.
type RetryStatus string

const (
	RetryPending    RetryStatus = "pending"
	RetryProcessing RetryStatus = "processing"
	RetrySucceeded  RetryStatus = "succeeded"
	RetryDeadLetter RetryStatus = "dead_letter"
)

// RetryTicket captures a whole webhook delivery whose processing aborted, so
// it can be replayed later. Payload is the JSON array of the original events.
type RetryTicket struct {
	ID            string          `json:"id"`
	WebhookType   string          `json:"webhook_type"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	Attempts      int             `json:"attempts"`
	Status        RetryStatus     `json:"status"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at,omitempty"`
}
