// Package api provides the HTTP API of the SafeRoute service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/handler"
	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/auth"
	"github.com/saferoute/saferoute/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	ServiceName string
	Logger      zerolog.Logger
	Metrics     *middleware.Metrics

	Analyzer handler.Analyzer
	Traces   handler.TraceSource
	Registry *resilience.Registry

	// Tokens enables bearer session tokens when non-nil and configured with a key.
	Tokens *auth.JWTService

	RequireTLS bool
}

// NewRouter creates a chi router with every API route configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "saferoute-api"
	}

	var (
		validator middleware.SubjectValidator
		issuer    handler.TokenIssuer
	)
	if cfg.Tokens != nil {
		validator, issuer = cfg.Tokens, cfg.Tokens
	}

	// Order matters: request id first so every later layer can log it.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.RequireJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, models.NewProblem(models.KindMethodNotAllowed, middleware.GetRequestID(r.Context()),
			r.Method+" is not supported on "+r.URL.Path))
	})

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry, cfg.Traces)
	routeHandler := handler.NewRouteHandler(cfg.Analyzer, cfg.Logger)
	sessionHandler := handler.NewSessionHandler(cfg.Analyzer, issuer, cfg.Logger)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.With(middleware.RateLimit(middleware.StandardRateLimit)).Group(func(r chi.Router) {
				r.Get("/providers", opsHandler.Providers)
				r.Get("/traces", opsHandler.Traces)
				r.Get("/traces/{operation}", opsHandler.OperationTraces)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(validator))

			r.With(middleware.RateLimit(middleware.AnalyzeRateLimit)).Post("/routes:analyze", routeHandler.Analyze)
			r.With(middleware.RateLimit(middleware.BatchRateLimit)).Post("/routes:batch", routeHandler.Batch)

			r.Route("/sessions", func(r chi.Router) {
				r.Use(middleware.RateLimit(middleware.StandardRateLimit))
				r.Post("/", sessionHandler.CreateSession)
				r.Route("/{sessionId}", func(r chi.Router) {
					r.Get("/history", sessionHandler.GetHistory)
					r.Get("/statistics", sessionHandler.GetStatistics)
					r.Get("/preferences", sessionHandler.GetPreferences)
					r.Patch("/preferences", sessionHandler.UpdatePreferences)
				})
			})
		})
	})

	return r
}
