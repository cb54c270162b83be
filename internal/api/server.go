package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docoutline/internal/config"
	"github.com/dgallion1/docoutline/internal/pipeline"
)

// CacheCounter reports how many results are cached.
type CacheCounter interface {
	Len(ctx context.Context) (int, error)
}

// Server is the HTTP API server for docoutline.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	policy       pipeline.Policy
	cache        CacheCounter
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. cache may be nil.
func NewServer(orch *pipeline.Orchestrator, cache CacheCounter, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		policy:       pipeline.PolicyFromConfig(cfg),
		cache:        cache,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/outline", s.handleOutline)
		r.Post("/api/rank", s.handleRank)
		r.Get("/api/stats", s.handleStats)

		r.Route("/api/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleJobStatus)
			r.Delete("/", s.handleCancelJob)
			r.Get("/result", s.handleJobResult)
			r.Get("/download", s.handleJobDownload)
			r.Get("/events", s.handleJobEvents)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
