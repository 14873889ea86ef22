package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/httputil"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
	"github.com/ignite/engagement-webhooks/internal/sendgrid"
	"github.com/ignite/engagement-webhooks/internal/service/webhook"
	"github.com/ignite/engagement-webhooks/internal/signature"
)

const (
	defaultSignatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	defaultTimestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
	defaultMaxBodyBytes    = 5 << 20
)

// BatchProcessor runs a parsed delivery through the event pipeline.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, source string, events []domain.Event) webhook.BatchResult
}

// WebhookOptions configures a WebhookHandler. Zero values take the
// provider defaults.
type WebhookOptions struct {
	Source          string
	SignatureHeader string
	TimestampHeader string
	MaxBodyBytes    int64
}

// WebhookResponse is the acknowledgement body for an accepted delivery.
type WebhookResponse struct {
	Status    string `json:"status"`
	Received  int    `json:"received"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
}

// WebhookHandler receives provider event deliveries. Once a delivery is
// authenticated and parsed it is always acknowledged with 200; per-event
// failures are reported in the counts, not the status code.
type WebhookHandler struct {
	verifier  *signature.Verifier
	processor BatchProcessor
	opts      WebhookOptions
}

// NewWebhookHandler creates the delivery endpoint handler.
func NewWebhookHandler(verifier *signature.Verifier, processor BatchProcessor, opts WebhookOptions) *WebhookHandler {
	if opts.Source == "" {
		opts.Source = "sendgrid"
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = defaultSignatureHeader
	}
	if opts.TimestampHeader == "" {
		opts.TimestampHeader = defaultTimestampHeader
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &WebhookHandler{verifier: verifier, processor: processor, opts: opts}
}

// ServeHTTP verifies, parses and processes one delivery.
//
//	POST /webhooks/sendgrid
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		httputil.BadRequest(w, "failed to read body")
		return
	}

	result := h.verifier.Verify(body, r.Header.Get(h.opts.SignatureHeader), r.Header.Get(h.opts.TimestampHeader))
	if !result.Valid {
		logger.Warn("[webhook] signature rejected", "source", h.opts.Source, "reason", result.Reason)
		httputil.Unauthorized(w, "invalid signature")
		return
	}

	events, err := sendgrid.ParseEvents(body)
	if err != nil {
		logger.Warn("[webhook] malformed payload", "source", h.opts.Source, "error", err.Error())
		httputil.BadRequest(w, "invalid JSON")
		return
	}

	res := h.processor.ProcessBatch(r.Context(), h.opts.Source, events)
	httputil.OK(w, WebhookResponse{
		Status:    "ok",
		Received:  res.Received,
		Processed: res.Processed,
		Skipped:   res.Skipped,
		Errors:    res.Errors,
	})
}
