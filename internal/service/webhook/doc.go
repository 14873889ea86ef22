// Package webhook processes provider event deliveries.
//
// Each delivery is handled as one sequential pass over its events in
// provider order. Per event the service deduplicates on the provider event
// id, dispatches on the event type to update the matching communication
// record, runs the suppression and sequence-guard side effects, and appends
// an audit row. Outcomes are tallied into a BatchResult and recorded as
// per-day metrics.
//
// A failure that escapes the per-event loop (a panic or a cancelled context)
// enqueues the whole delivery as a retry ticket. Replaying a ticket is safe
// because already-processed events are skipped by the dedup gate.
//
// The service depends only on the interfaces in repository.go.
package webhook
