package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/infra/observability"
	"github.com/boddenberg/emi-bfa-go/internal/service"
	"github.com/boddenberg/emi-bfa-go/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthProbe reports on one dependency for /healthz.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterDeps carries everything the router wires into handlers.
type RouterDeps struct {
	EMI         *service.EMIService
	Sessions    *session.Store
	Probes      []HealthProbe
	CORSOrigins []string
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	svc := deps.EMI

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(CORS(deps.CORSOrigins))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Probes))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(ForwardAuthorization)

		r.Get("/metrics/emi", emiMetricsHandler(deps.Metrics))

		// Calculator
		r.Get("/emi/quote", quoteHandler(svc, logger))
		r.Get("/emi/compare", compareHandler(svc, logger))
		r.Get("/emi/schedule/preview", schedulePreviewHandler(svc, logger))

		// Accounts
		r.Get("/accounts", listAccountsHandler(svc, logger))
		r.Get("/accounts/{accountId}/emi-candidates", candidatesHandler(svc, logger))

		// Plans & installments
		r.Get("/emi/plans", listPlansHandler(svc, logger))
		r.Post("/emi/plans", createPlanHandler(svc, logger))
		r.Get("/emi/plans/{planId}/schedule", getScheduleHandler(svc, logger))
		r.Get("/emi/upcoming", upcomingHandler(svc, logger))
		r.Post("/emi/installments/{installmentId}/pay", payInstallmentHandler(svc, logger))
		r.Post("/emi/affordability", affordabilityHandler(svc, logger))

		// View-model sessions
		if deps.Sessions != nil {
			r.Route("/sessions", sessionRoutes(deps.Sessions, logger))
		}
	})

	return r
}

func healthzHandler(probes []HealthProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "emi-bfa", Status: "healthy", LastChecked: now},
		}
		overall := "healthy"
		for _, p := range probes {
			start := time.Now()
			err := p.Check(ctx)
			sh := domain.ServiceHealth{
				Name:        p.Name,
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				sh.Status = "degraded"
				sh.Detail = err.Error()
				overall = "degraded"
			}
			services = append(services, sh)
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
