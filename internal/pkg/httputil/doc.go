// Package httputil provides shared HTTP response helpers for handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter
// calls, so JSON formatting and error envelopes stay consistent between the
// webhook endpoint and the ops API.
package httputil
