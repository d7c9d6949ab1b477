package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// WebhookDispatcher accepts a signed webhook delivery.
type WebhookDispatcher interface {
	Handle(ctx context.Context, body []byte, headers http.Header) (*domain.AckResponse, error)
}

// SessionReader reads stored sessions.
type SessionReader interface {
	Session(ctx context.Context, callID string) (*domain.Session, error)
}

// TokenIssuer signs demo tokens.
type TokenIssuer interface {
	Issue(businessID string) (string, time.Time, error)
}

// HealthCheck checks one dependency.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Deps carries everything the router serves. Nil collaborators leave their
// routes unmounted.
type Deps struct {
	Webhooks     WebhookDispatcher
	Sessions     SessionReader
	Tokens       TokenIssuer
	Checks       []HealthCheck
	MaxBodyBytes int64
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}
	logger := d.Logger

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Checks, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		// POST /v1/webhooks/realtime
		if d.Webhooks != nil {
			r.Post("/webhooks/realtime", webhookHandler(d.Webhooks, d.MaxBodyBytes, logger))
		}

		// GET /v1/sessions/{callId}
		if d.Sessions != nil {
			r.Get("/sessions/{callId}", sessionHandler(d.Sessions, logger))
		}

		// POST /v1/demo/tokens
		if d.Tokens != nil {
			r.Post("/demo/tokens", demoTokenHandler(d.Tokens, logger))
		}

		// GET /v1/metrics/calls
		r.Get("/metrics/calls", callMetricsHandler(d.Metrics))
	})

	return r
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func healthzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "receptionist-core", Status: "healthy", LastChecked: now},
		}
		for _, c := range checks {
			start := time.Now()
			err := c.Ping(ctx)
			status := "healthy"
			if err != nil {
				status = "unhealthy"
				logger.Warn("health check failed", zap.String("service", c.Name), zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name:        c.Name,
				Status:      status,
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		status := http.StatusOK
		if overallStatus == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func callMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetCallSnapshot())
	}
}
