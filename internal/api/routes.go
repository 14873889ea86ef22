package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDeps are the handlers mounted by SetupRoutes. Health and Ops may be
// nil.
type RouterDeps struct {
	WebhookPath    string
	Webhook        http.Handler
	Health         *HealthChecker
	Ops            *OpsHandlers
	AllowedOrigins []string
}

// SetupRoutes configures the webhook endpoint, health probes and the ops API.
func SetupRoutes(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// All methods reach the handler so it can answer 405 in JSON.
	path := d.WebhookPath
	if path == "" {
		path = "/webhooks/sendgrid"
	}
	r.Handle(path, d.Webhook)

	if d.Health != nil {
		r.Get("/health", d.Health.HandleHealth)
		r.Get("/health/live", d.Health.HandleLiveness)
		r.Get("/health/ready", d.Health.HandleReadiness)
	}

	if d.Ops != nil {
		r.Route("/api", func(r chi.Router) {
			if len(d.AllowedOrigins) > 0 {
				r.Use(cors.Handler(cors.Options{
					AllowedOrigins: d.AllowedOrigins,
					AllowedMethods: []string{"GET", "OPTIONS"},
					AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
					MaxAge:         300,
				}))
			}
			r.Get("/webhooks/retries", d.Ops.ListRetries)
			r.Get("/webhooks/metrics", d.Ops.GetMetrics)
		})
	}

	return r
}
