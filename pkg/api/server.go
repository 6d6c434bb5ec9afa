// Package api exposes the sandbox manager over HTTP: a small JSON REST
// surface for lifecycle operations, a tool invocation endpoint, and a
// websocket stream of lifecycle events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/appforge/sandboxd/pkg/sandbox"
	"github.com/appforge/sandboxd/pkg/tools"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server serves the REST and websocket API.
type Server struct {
	config   ServerConfig
	manager  *sandbox.Manager
	registry *tools.Registry
	router   *mux.Router
	logger   zerolog.Logger
	httpSrv  *http.Server
}

// NewServer creates the API server and wires its routes.
func NewServer(config ServerConfig, manager *sandbox.Manager, registry *tools.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		config:   config,
		manager:  manager,
		registry: registry,
		router:   mux.NewRouter(),
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/sandboxes/acquire", s.handleAcquire).Methods(http.MethodPost)
	v1.HandleFunc("/sandboxes/{user_id}/{project_id}", s.handleRelease).Methods(http.MethodDelete)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events/recent", s.handleRecentEvents).Methods(http.MethodGet)

	v1.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	v1.HandleFunc("/tools/{name}", s.handleExecuteTool).Methods(http.MethodPost)
}

// Start runs the HTTP server until the context is cancelled, then shuts
// it down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
