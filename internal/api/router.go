// Package api provides the HTTP API of geowatch serve mode.
package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/geowatch/geowatch/internal/api/handler"
	"github.com/geowatch/geowatch/internal/api/middleware"
	"github.com/geowatch/geowatch/internal/api/models"
	"github.com/geowatch/geowatch/internal/api/response"
	"github.com/geowatch/geowatch/internal/job"
	"github.com/geowatch/geowatch/internal/provider/resilience"
)

// DefaultMaxBodyBytes bounds job request bodies. Polygons with many vertices
// are the largest legitimate input.
const DefaultMaxBodyBytes = 4 << 20

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	// Metrics is optional.
	Metrics *middleware.Metrics

	// Registry reports backend health. Optional.
	Registry *resilience.Registry

	// Database is checked by the readiness endpoint. Optional.
	Database handler.Pinger

	Runners         map[job.Kind]handler.AnalysisRunner
	CredentialsPath string

	// Results serves /v1/results. When nil the routes are not mounted.
	Results handler.ResultStore

	// Tokens protects the analysis and result routes. When nil they are open.
	Tokens middleware.TokenValidator

	// RateLimit defaults to middleware.DefaultAnalysisRateLimit.
	RateLimit middleware.RateLimitConfig

	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// NewRouter creates a chi router with every route configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.RateLimit.RequestLimit <= 0 || cfg.RateLimit.WindowLength <= 0 {
		cfg.RateLimit = middleware.DefaultAnalysisRateLimit
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()

	// Order matters: the request id is needed by everything after it.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, models.NewProblem(models.ProblemTypeNotFound, "Method not allowed",
			http.StatusMethodNotAllowed, middleware.GetRequestID(r.Context())))
	})

	kinds := make([]string, 0, len(cfg.Runners))
	for kind := range cfg.Runners {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Analyses:  kinds,
		Database:  cfg.Database,
	})
	analysisHandler := handler.NewAnalysisHandler(cfg.Runners, cfg.CredentialsPath, cfg.Logger)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.Route("/analyses", func(r chi.Router) {
			if cfg.Tokens != nil {
				r.Use(middleware.Auth(cfg.Tokens))
			}
			r.Get("/", analysisHandler.ListAnalyses)
			r.With(
				middleware.RateLimit(cfg.RateLimit),
				middleware.MaxBodySize(cfg.MaxBodyBytes),
			).Post("/{kind}", analysisHandler.RunAnalysis)
		})

		if cfg.Results != nil {
			resultsHandler := handler.NewResultsHandler(cfg.Results, cfg.Logger)
			r.Route("/results", func(r chi.Router) {
				if cfg.Tokens != nil {
					r.Use(middleware.Auth(cfg.Tokens))
				}
				r.Get("/", resultsHandler.ListResults)
				r.Get("/alert-summary", resultsHandler.AlertSummary)
				r.Get("/{id}", resultsHandler.GetResult)
			})
		}
	})

	return r
}
