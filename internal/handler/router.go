package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/observability"
	"github.com/boddenberg/sindicato-efi-bridge/internal/port"
	"github.com/boddenberg/sindicato-efi-bridge/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Forbidden messages of the financial routes.
const (
	msgForbiddenWrite = "Sem permissão para ação financeira."
	msgForbiddenRead  = "Sem permissão para consulta financeira."
)

// HealthCheck pings one dependency for /healthz and /readyz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterDeps groups what NewRouter wires into the routes.
type RouterDeps struct {
	Boletos        *service.BoletoService
	Auth           *service.CallerAuth
	Idempotency    port.IdempotencyStore
	IdempotencyTTL time.Duration
	Checks         []HealthCheck
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	metrics := deps.Metrics

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ExtractTraceContext)
	r.Use(observability.AccessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Checks))
	r.Get("/readyz", readyzHandler(deps.Checks, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- Bridge EFI ---
	r.Route("/api/efi", func(r chi.Router) {
		r.Use(CallerAuthMiddleware(deps.Auth, logger))

		r.With(RequireScopeOrRole(domain.ScopeFinancialRead, msgForbiddenRead, logger)).
			Get("/metrics", bridgeMetricsHandler(metrics))

		r.Route("/boletos", func(r chi.Router) {
			// Escrita
			r.Group(func(r chi.Router) {
				r.Use(RequireScopeOrRole(domain.ScopeFinancialWrite, msgForbiddenWrite, logger))
				r.With(Idempotency(deps.Idempotency, deps.IdempotencyTTL, logger)).
					Post("/", createBoletoHandler(deps.Boletos, metrics, logger))
				r.Post("/{efiChargeId}/acoes", boletoActionHandler(deps.Boletos, metrics, logger))
			})

			// Consulta
			r.Group(func(r chi.Router) {
				r.Use(RequireScopeOrRole(domain.ScopeFinancialRead, msgForbiddenRead, logger))
				r.Post("/sync", syncBoletosHandler(deps.Boletos, metrics, logger))
				r.Get("/{efiChargeId}", getBoletoHandler(deps.Boletos, metrics, logger))
			})
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func runChecks(ctx context.Context, checks []HealthCheck) []domain.ServiceHealth {
	now := time.Now().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "efi-bridge", Status: "healthy", LastChecked: now},
	}
	for _, c := range checks {
		start := time.Now()
		err := c.Check(ctx)
		status := "healthy"
		if err != nil {
			status = "unhealthy"
		}
		services = append(services, domain.ServiceHealth{
			Name:        c.Name,
			Status:      status,
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		})
	}
	return services
}

func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		services := runChecks(ctx, checks)
		overallStatus := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overallStatus = "degraded"
				break
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				logger.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "failed": c.Name})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
