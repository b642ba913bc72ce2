// Package server is the operator API: alert rule CRUD, alert lifecycle,
// ML recommendation review and classification feedback.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northcell/conversation-cdc/internal/auth"
	"github.com/northcell/conversation-cdc/internal/config"
)

// Server wraps the HTTP server for the operator API.
type Server struct {
	config      config.ServerConfig
	handler     http.Handler
	handlers    *Handlers
	server      *http.Server
	authManager *auth.AuthManager
	router      *chi.Mux
}

// NewServer creates the operator API server. authManager may be nil, in
// which case the API routes are open (auth.enabled=false, dev setups).
func NewServer(cfg config.ServerConfig, h *Handlers, authManager *auth.AuthManager) *Server {
	router := SetupRoutes(h, authManager, cfg.CORSOrigins)

	return &Server{
		config:      cfg,
		handler:     router,
		handlers:    h,
		authManager: authManager,
		router:      router,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// The API serves small JSON payloads only, so the timeouts can
		// stay tight.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
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

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
