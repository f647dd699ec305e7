/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the settings UI
  5. RateLimit:  Per-client throttling of /api (optional, see ratelimit.go)

ROUTE GROUPS:
  /api/teams/{teamID}/*  Team-scoped engine operations (see handlers.go)
  /metrics               Prometheus scrape endpoint
  /healthz               Liveness plus database ping

SECURITY NOTE:
  No authentication middleware. The X-User-ID header is trusted as given
  and only recorded for audit.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions holds the optional parts of the router.
type RouterOptions struct {
	// Metrics is served on /metrics when set.
	Metrics prometheus.Gatherer
	// RateLimiter throttles /api when set.
	RateLimiter *RateLimiter
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", actorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api/teams/{teamID}", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Post("/tips", h.AddTip)

		// Period routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.StartPeriod)
			r.Post("/current/end", h.EndCurrentPeriod)
			r.Get("/{periodID}", h.GetPeriod)
			r.Delete("/{periodID}", h.DeletePeriod)
		})

		// Member routes
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)
			r.Post("/{memberID}/hours", h.AddHours)
			r.Delete("/{memberID}/hours/{registrationID}", h.DeleteHourRegistration)
		})

		r.Post("/distribution", h.Distribution)
		r.Get("/average-tip-per-hour", h.AverageTipPerHour)

		// Payout routes
		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", h.ListPayouts)
			r.Post("/", h.SettlePayout)
			r.Post("/preview", h.PreviewPayout)
			r.Get("/pending", h.PendingPayout)
			r.Post("/retry", h.RetryPayout)
		})
	})

	return r
}
