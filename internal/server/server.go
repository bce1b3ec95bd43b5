package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/lightci/internal/artifact"
	"github.com/me/lightci/internal/config"
	"github.com/me/lightci/internal/engine"
	"github.com/me/lightci/internal/parser"
)

// Server is the LightCI REST API server: a thin adapter over the engine.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	engine    *engine.Engine
	parser    *parser.Parser
	artifacts *artifact.Store // optional
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithArtifactStore enables the artifact endpoints.
func WithArtifactStore(st *artifact.Store) Option {
	return func(s *Server) { s.artifacts = st }
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		engine:    eng,
		parser:    parser.New(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", s.handleCreatePipeline)
			r.Get("/", s.handleListPipelines)
			r.Get("/{id}", s.handleGetPipeline)
			r.Put("/{id}", s.handleUpdatePipeline)
			r.Delete("/{id}", s.handleDeletePipeline)
			r.Post("/{id}/builds", s.handleTriggerBuild)
		})

		r.Route("/builds", func(r chi.Router) {
			r.Get("/", s.handleListBuilds)
			r.Get("/{id}", s.handleGetBuild)
			r.Post("/{id}/cancel", s.handleCancelBuild)
			r.Get("/{id}/steps", s.handleListStepResults)
			r.Get("/{id}/logs", s.handleGetBuildLogs)
			r.Get("/{id}/events", s.handleBuildEvents)
		})

		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/", s.handleListArtifacts)
			r.Post("/{id}/{version}", s.handleUploadArtifact)
			r.Get("/{id}/{version}", s.handleDownloadArtifact)
		})
	})
}
