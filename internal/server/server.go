// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package server exposes the HTTP API: chat (plain and streaming), document
// management, and lead capture.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/loam-dev/loam/internal/ingest"
	"github.com/loam-dev/loam/internal/leads"
	"github.com/loam-dev/loam/internal/rag"
	"github.com/loam-dev/loam/internal/vectorstore"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	RateLimit    RateLimitConfig
	UploadDir    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Answerer is the slice of the RAG chain the server needs.
type Answerer interface {
	Query(ctx context.Context, question string) (*rag.Response, error)
	QueryStream(ctx context.Context, question string) (<-chan string, error)
}

// Dependencies are the wired services the routes call into.
type Dependencies struct {
	Chain    Answerer
	Store    vectorstore.Store
	Pipeline *ingest.Pipeline
	Leads    *leads.Store
}

// Server wraps a chi router with a huma API and the wired dependencies.
type Server struct {
	router chi.Router
	api    huma.API
	cfg    Config
	deps   Dependencies
	done   chan struct{}
}

// New creates a Server with middleware, health endpoint, and all routes.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Streaming chat responses can take a while on slow models.
		cfg.WriteTimeout = 300 * time.Second
	}

	srv := &Server{
		cfg:  cfg,
		deps: deps,
		done: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware(cfg.RateLimit, srv.done))

	humaConfig := huma.DefaultConfig("Loam", "0.1.0")
	humaConfig.Info.Description = "Retrieval-augmented answering over private documents"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	srv.router = r
	srv.api = api
	srv.registerRoutes()
	srv.registerStreamRoute()
	srv.registerUploadRoute()
	srv.registerLeadsExportRoute()

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API, mainly for OpenAPI spec extraction.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer close(s.done)

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return <-errCh
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
}
