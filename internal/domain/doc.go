// Package domain defines the core business types for the engagement webhook
// service.
//
// Types in this package are pure value objects with no behavior beyond small
// validation and ordering helpers. They are the shared language between the
// HTTP handler, the webhook service, and the repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain
