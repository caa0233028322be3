// Package server provides the HTTP server setup for Pharos.
package server

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/halcyonlabs/pharos/internal/api"
	"github.com/halcyonlabs/pharos/internal/cluster"
	"github.com/halcyonlabs/pharos/internal/config"
	"github.com/halcyonlabs/pharos/internal/experiment"
	"github.com/halcyonlabs/pharos/internal/index"
	"github.com/halcyonlabs/pharos/internal/metrics"
	"github.com/halcyonlabs/pharos/internal/middleware"
	"github.com/halcyonlabs/pharos/internal/prefs"
	"github.com/halcyonlabs/pharos/internal/ranker"
	"github.com/halcyonlabs/pharos/internal/store"
)

// Server holds all dependencies for the Pharos HTTP server.
type Server struct {
	Router *chi.Mux
	Config *config.Config
	Logger *slog.Logger
}

// Deps are the components the routes serve.
type Deps struct {
	DB          *store.DB
	Vectors     index.Index
	Clusters    *cluster.Index
	Preferences *prefs.Model
	Experiments *experiment.Manager
	Ranker      *ranker.Ranker
	Metrics     *metrics.Metrics
	Broker      api.Connectable // nil when NATS is not configured
}

// New creates a new Server with all routes configured.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))

	// Handlers
	healthHandler := api.NewHealthHandler(deps.DB, deps.Vectors, deps.Clusters, deps.Broker)
	rankHandler := api.NewRankHandler(deps.Ranker)
	userHandler := api.NewUserHandler(deps.Preferences, deps.Experiments, cfg.MinInteractions)
	experimentHandler := api.NewExperimentHandler(deps.Experiments)
	clusterHandler := api.NewClusterHandler(deps.Clusters, deps.Metrics, logger)

	// Rate limiter for the ranking route; administrative routes stay open.
	rankRL := middleware.NewRateLimiter(cfg.RankRateLimit, cfg.RateWindow)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Group(func(r chi.Router) {
			r.Use(rankRL.Middleware)
			r.Post("/rank", rankHandler.Rank)
		})

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/eligibility", userHandler.Eligibility)
			r.Get("/variant", userHandler.Variant)
		})

		r.Route("/experiment", func(r chi.Router) {
			r.Get("/config", experimentHandler.GetConfig)
			r.Put("/config", experimentHandler.PutConfig)
			r.Get("/results", experimentHandler.Results)
		})

		r.Route("/clusters", func(r chi.Router) {
			r.Get("/status", clusterHandler.Status)
			r.Post("/rebuild", clusterHandler.Rebuild)
		})
	})

	r.Handle("/metrics", deps.Metrics.Handler())

	return &Server{
		Router: r,
		Config: cfg,
		Logger: logger,
	}
}
