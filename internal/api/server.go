// Package api exposes the screening engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/shrike/internal/cases"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/rules"
	"github.com/opensource-finance/shrike/internal/screening"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *rules.Store, svc *screening.Service, caseManager *cases.Manager, version string) *Server {
	handler := NewHandler(repo, cache, bus, store, svc, caseManager, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Collaborator stand-ins
	router.Post("/transactions", handler.IngestTransaction)
	router.Put("/users", handler.UpsertUser)

	// Screening
	router.Post("/transactions/{id}/screen", handler.ScreenTransaction)
	router.Get("/transactions/{id}", handler.GetTransaction)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
	router.Get("/rules/{id}", handler.GetRule)
	router.Put("/rules/{id}", handler.UpdateRule)
	router.Get("/rules/{id}/versions", handler.ListRuleVersions)
	router.Post("/rules/{id}/enable", handler.ToggleRule(true))
	router.Post("/rules/{id}/disable", handler.ToggleRule(false))
	router.Post("/rules/{id}/archive", handler.ArchiveRule)

	// Case workflow
	router.Get("/cases/{id}", handler.GetCase)
	router.Post("/cases/{id}/logs", handler.AddCaseLog)
	router.Put("/cases/{id}/status", handler.SetCaseStatus)
	router.Post("/cases/{id}/resolve", handler.ResolveCase)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
