/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request, copied onto the labor context
  2. Logger:         Request logging
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. CORS:           Cross-origin requests for frontend
  5. Instrument:     Prometheus request metrics (when configured)
  6. RateLimit:      Token bucket per actor or client IP (when configured)

ROUTE GROUPS:
  /api/workers/*   /api/jobs       Directory
  /api/rates/*                     Rate records and resolution
  /api/entries/*                   Time entry lifecycle and audit trail
  /api/bulk/*      /api/payroll/*  Correlated batch operations
  /api/audit/*                     Audit queries
  /healthz         /metrics        Operations

SECURITY NOTE:
  Authentication is handled upstream; the actor is taken from X-User-ID and
  every money-affecting action is permission-checked in the core.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request context and rate limiting
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/laborcost/obs"
)

// RouterOptions carries the optional operational pieces of the router.
type RouterOptions struct {
	Metrics        *obs.Metrics // nil disables /metrics and request instrumentation
	Limiter        *RateLimiter // nil disables rate limiting
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestContext)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{"X-Correlation-ID", "X-Request-ID"},
		AllowCredentials: true,
	}))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
	}

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}

		// Directory routes
		r.Route("/workers", func(r chi.Router) {
			r.Post("/", h.CreateWorker)
			r.Get("/{id}", h.GetWorker)
		})
		r.Post("/jobs", h.CreateJob)

		// Rate routes
		r.Route("/rates", func(r chi.Router) {
			r.Post("/", h.CreateRate)
			r.Get("/resolve", h.ResolveRate)
			r.Post("/{id}/deactivate", h.DeactivateRate)
		})

		// Entry routes
		r.Route("/entries", func(r chi.Router) {
			r.Post("/", h.CreateEntry)
			r.Post("/evaluate", h.EvaluateEntry)
			r.Get("/{id}", h.GetEntry)
			r.Put("/{id}", h.UpdateEntry)
			r.Post("/{id}/submit", h.SubmitEntry)
			r.Post("/{id}/approve", h.ApproveEntry)
			r.Post("/{id}/reject", h.RejectEntry)
			r.Post("/{id}/void", h.VoidEntry)
			r.Get("/{id}/audit", h.GetEntryAudit)
		})

		// Bulk routes
		r.Route("/bulk", func(r chi.Router) {
			r.Post("/approve", h.BulkApprove)
			r.Post("/reject", h.BulkReject)
			r.Post("/reprice", h.BulkReprice)
		})
		r.Get("/payroll/export", h.ExportPayroll)

		// Audit routes
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.QueryAudit)
			r.Get("/correlation/{id}", h.AuditByCorrelation)
		})
	})

	return r
}
