// Package suppression implements the do-not-email list and the sequence
// guard that stops automated outreach to a contact.
//
// Suppressions flow in from provider webhooks (hard bounces, spam complaints,
// unsubscribes). Every suppression also cancels the contact's active sequence
// enrollments; replies cancel enrollments without suppressing.
//
// The service layer contains pure business logic and depends on the
// Repository interfaces defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
