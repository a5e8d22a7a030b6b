package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"permitgate/internal/platform/middleware"
	"permitgate/internal/transport/http/shared"
)

// Registrar is implemented by domain handler packages.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports on a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthFunc adapts a plain function to HealthChecker.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) Health(ctx context.Context) error { return f(ctx) }

// NewRouter wires the platform middleware chain, operational endpoints, and
// every domain handler. Business routes live in the handler packages.
func NewRouter(logger *slog.Logger, checks map[string]HealthChecker, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", handleHealth(checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.Health(ctx); err != nil {
				results[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		shared.WriteJSON(w, status, results)
	}
}
