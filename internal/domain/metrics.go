package domain

import "time"

// DayLayout is the calendar-day key format for webhook metrics.
const DayLayout = "2006-01-02"

// WebhookMetrics are per-source, per-day delivery counters. Recording is
// additive: each call increments the stored totals.
type WebhookMetrics struct {
	WebhookType string    `json:"webhook_type"`
	Day         time.Time `json:"day"`
	Received    int       `json:"received"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
}

// DayKey returns the UTC calendar day as YYYY-MM-DD.
func (m WebhookMetrics) DayKey() string {
	return m.Day.UTC().Format(DayLayout)
}
