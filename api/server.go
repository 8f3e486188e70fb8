/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from proxy headers (rate limit key)
  3. Logger:     slog request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters by route pattern
  6. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/apps/*        Listings, events, reviews
  /api/accounts/*    Balances, history, tiers
  /api/quests/*      Daily quests
  /api/referrals/*   Click + conversion (click is rate limited)
  /api/admin/*       Adjustments, featuring, settings, audit
  /api/scenarios/*   Demo scenarios
  /metrics           Prometheus exposition
  /healthz           Store liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the pieces of the router that are not handlers.
type RouterConfig struct {
	AllowedOrigins []string
	ClickLimiter   *RateLimiter
	Auditor        *BalanceAuditor
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.ClickLimiter == nil {
		cfg.ClickLimiter = NewRateLimiter(5, 10, h.Logger)
	}
	if cfg.Auditor == nil {
		cfg.Auditor = NewBalanceAuditor(h, cfg.ClickLimiter)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/apps", func(r chi.Router) {
			r.Get("/trending", h.ListTrending)
			r.Post("/", h.CreateApp)
			r.Get("/{id}", h.GetApp)
			r.Post("/{id}/events", h.RecordEvent)
			r.Post("/{id}/reviews", h.CreateReview)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/tier", h.GetTier)
		})

		r.Get("/tiers", h.ListTiers)

		r.Route("/quests", func(r chi.Router) {
			r.Get("/", h.ListQuests)
			r.Post("/{questId}/complete", h.CompleteQuest)
		})

		r.Route("/referrals", func(r chi.Router) {
			r.With(cfg.ClickLimiter.Handler).Post("/click", h.TrackClick)
			r.Post("/convert", h.ConvertReferral)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Put("/apps/{id}/feature", h.SetFeatured)
			r.Delete("/apps/{id}", h.DeleteApp)
			r.Put("/accounts/{id}", h.UpdateAccount)
			r.Get("/accounts/{id}/verify", h.VerifyBalance)
			r.Get("/audit", cfg.Auditor.LastAudit)
			r.Post("/audit", cfg.Auditor.RunAudit)
			r.Get("/settings", h.ListSettings)
			r.Put("/settings/{key}", h.SetSetting)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("remote", r.RemoteAddr))
		})
	}
}
