package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dearplant/dearplant/app"
	"github.com/dearplant/dearplant/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Caller-ID", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))

	// Prometheus scrape endpoint
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Capability invocation
		r.Post("/invoke", handlers.InvokeHandler(deps))

		// Operator surface
		r.Route("/admin", func(r chi.Router) {
			r.Get("/providers", handlers.ListProvidersHandler(deps))
			r.Post("/reload", handlers.ReloadHandler(deps))
			r.Post("/providers/{id}/open", handlers.ForceOpenHandler(deps))
			r.Post("/providers/{id}/close", handlers.ForceCloseHandler(deps))
			r.Get("/usage", handlers.ListUsageHandler(deps))
			r.Post("/cache/flush", handlers.FlushCacheHandler(deps))
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
