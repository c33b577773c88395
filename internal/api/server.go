// Package api serves the admin HTTP API: grant management, keybinding
// inspection, synthetic key input and the live event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/wayguard/internal/audit"
	"github.com/mattjoyce/wayguard/internal/auth"
	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/events"
	"github.com/mattjoyce/wayguard/internal/keybindings"
)

// Core is the compositor surface the API drives.
type Core interface {
	Grants(ctx context.Context) ([]authz.Info, error)
	Grant(ctx context.Context, name string, perms authz.Permissions, command string) (authz.Info, error)
	Revoke(ctx context.Context, id string) error
	Keybindings(ctx context.Context) ([]keybindings.Info, error)
	InjectKey(ctx context.Context, key, mods uint32, pressed bool, time uint32) (bool, error)
}

// AuditLog reads the grant log.
type AuditLog interface {
	List(ctx context.Context, grantID string, limit int) ([]audit.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	core      Core
	audit     AuditLog
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. audit may be nil.
func New(config Config, core Core, audit AuditLog, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		core:      core,
		audit:     audit,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeGrantsRead)).Get("/grants", s.handleListGrants)
		r.With(s.requireScopes(auth.ScopeGrantsRead)).Get("/grants/{id}/log", s.handleGrantLog)
		r.With(s.requireScopes(auth.ScopeGrantsWrite)).Post("/grants", s.handleCreateGrant)
		r.With(s.requireScopes(auth.ScopeGrantsWrite)).Delete("/grants/{id}", s.handleRevokeGrant)
		r.With(s.requireScopes(auth.ScopeKeybindings)).Get("/keybindings", s.handleListKeybindings)
		r.With(s.requireScopes(auth.ScopeInput)).Post("/keys", s.handleInjectKey)
		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
