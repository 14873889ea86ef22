package webhook

import "errors"

// Sentinel errors for the webhook service layer.
var (
	// ErrNotFound is returned by repositories when a lookup matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrBatchAborted wraps a failure that stopped a delivery mid-loop.
	ErrBatchAborted = errors.New("webhook batch aborted")
)
