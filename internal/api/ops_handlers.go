package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/httputil"
)

// RetryLister lists retry tickets still awaiting replay.
type RetryLister interface {
	ListPending(ctx context.Context, limit int) ([]domain.RetryTicket, error)
}

// MetricsReader reads per-day webhook counters.
type MetricsReader interface {
	GetMetrics(ctx context.Context, day time.Time) ([]domain.WebhookMetrics, error)
}

// OpsHandlers serves read-only operational views. Retries is nil when
// tickets live in SQS.
type OpsHandlers struct {
	Retries RetryLister
	Metrics MetricsReader
	Now     func() time.Time
}

// ListRetries returns pending retry tickets, soonest first.
//
//	GET /api/webhooks/retries?limit=50
func (h *OpsHandlers) ListRetries(w http.ResponseWriter, r *http.Request) {
	if h.Retries == nil {
		httputil.Error(w, http.StatusNotImplemented, "retry tickets are not stored in the database")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	tickets, err := h.Retries.ListPending(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if tickets == nil {
		tickets = []domain.RetryTicket{}
	}
	httputil.OK(w, map[string]interface{}{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// GetMetrics returns the counters for one UTC day, today by default.
//
//	GET /api/webhooks/metrics?day=2026-05-04
func (h *OpsHandlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		httputil.Error(w, http.StatusNotImplemented, "metrics are not configured")
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	day := now().UTC().Truncate(24 * time.Hour)
	if s := r.URL.Query().Get("day"); s != "" {
		d, err := time.Parse(domain.DayLayout, s)
		if err != nil {
			httputil.BadRequest(w, "day must be YYYY-MM-DD")
			return
		}
		day = d
	}

	rows, err := h.Metrics.GetMetrics(r.Context(), day)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if rows == nil {
		rows = []domain.WebhookMetrics{}
	}
	httputil.OK(w, map[string]interface{}{
		"day":     day.Format(domain.DayLayout),
		"metrics": rows,
	})
}
