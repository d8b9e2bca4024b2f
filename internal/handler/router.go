package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carticy-dev/agentic-checkout/internal/idempotency"
	"github.com/carticy-dev/agentic-checkout/pkg/health"
	"github.com/carticy-dev/agentic-checkout/pkg/middleware"
)

const serviceName = "checkout-engine"

// RouterDeps bundles everything the router mounts.
type RouterDeps struct {
	Sessions      *SessionHandler
	PaymentEvents *PaymentEventHandler
	Gate          *Gate
	Idempotency   idempotency.Store
	Health        *health.Handler
	Logger        *slog.Logger
	Tracing       bool
}

// NewRouter assembles the HTTP surface. Protocol routes sit behind the
// access gate; mutating routes additionally pass the idempotency ledger.
// Health and metrics endpoints are unauthenticated for the orchestrator.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogging(deps.Logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	if deps.Tracing {
		r.Use(middleware.Tracing(serviceName))
	}

	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(deps.Gate.Middleware)
		r.Use(Idempotency(deps.Idempotency, deps.Logger))

		r.Route("/checkout_sessions", func(r chi.Router) {
			r.Post("/", deps.Sessions.Create)
			r.Get("/{id}", deps.Sessions.Get)
			r.Post("/{id}", deps.Sessions.Update)
			r.Post("/{id}/complete", deps.Sessions.Complete)
			r.Post("/{id}/cancel", deps.Sessions.Cancel)
		})

		r.Post("/payment_events", deps.PaymentEvents.Apply)
	})

	return r
}
