/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for back-office frontends

ROUTE GROUPS:
  /api/calculate, /api/severance   One-off calculations
  /api/runs/*                      Batch run lifecycle
  /api/rulesets/*                  Rule versioning and refresh
  /api/countries                   Jurisdiction reference data
  /api/employees/*                 Employee master data and facts
  /health, /metrics                Operational endpoints

SECURITY NOTE:
  No authentication middleware. The service is expected to sit behind a
  gateway that terminates auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/payrolld/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. The gatherer
// backs the /metrics endpoint; pass the registry the collector was built on.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// One-off calculations
		r.Post("/calculate", h.CalculatePayroll)
		r.Post("/severance", h.CalculateSeverance)

		// Batch runs
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/", h.StartRun)
			r.Get("/{id}", h.GetRun)
			r.Get("/{id}/results", h.ListRunResults)
			r.Post("/{id}/cancel", h.CancelRun)
		})

		// Rule versioning
		r.Route("/rulesets", func(r chi.Router) {
			r.Get("/{country}", h.ListRuleSets)
			r.Put("/{country}", h.PutRuleSet)
			r.Get("/{country}/at", h.RuleSetAt)
			r.Post("/{country}/refresh", h.TriggerRefresh)
		})

		// Reference data
		r.Get("/countries", h.ListCountries)
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}/facts", h.PushFacts)
		})
	})

	// Operational endpoints
	r.Get("/health", h.Health)
	r.Method("GET", "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
