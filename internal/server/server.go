// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jeranaias/deepresearch/internal/cloud"
	"github.com/jeranaias/deepresearch/internal/config"
	"github.com/jeranaias/deepresearch/internal/react"
	"github.com/jeranaias/deepresearch/internal/search"
	"github.com/jeranaias/deepresearch/internal/usage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds research and report bodies (1MB).
	MaxRequestBodySize = 1 << 20

	// MaxMessageCount is the maximum number of messages in a research request.
	MaxMessageCount = 100

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

// ============================================================================
// SERVER
// ============================================================================

// ModelFactory builds the language model for one request.
type ModelFactory func(cfg *config.Config) (react.Model, error)

// OpenRouterModels is the default ModelFactory.
func OpenRouterModels(logger zerolog.Logger) ModelFactory {
	return func(cfg *config.Config) (react.Model, error) {
		client := cloud.NewOpenRouterClient(cfg.Model.OpenRouterKey).
			WithBaseURL(cfg.Model.BaseURL).
			WithLogger(logger)
		if !client.IsConfigured() {
			return nil, cloud.ErrNotConfigured
		}
		return react.NewOpenRouterModel(client, cfg.Model.Name), nil
	}
}

// state is the config-derived part of the server, swapped as a unit.
type state struct {
	cfg       *config.Config
	fact      *search.Fact
	discovery *search.Discovery
}

// Server is the HTTP API server.
type Server struct {
	state    atomic.Pointer[state]
	limiter  *usage.Limiter
	newModel ModelFactory
	logger   zerolog.Logger
	rate     *IPRateLimiter

	engine  *gin.Engine
	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter enforces search quotas with lim. Without it searches are
// unmetered and /api/usage reports enforcement off.
func WithLimiter(lim *usage.Limiter) Option {
	return func(s *Server) { s.limiter = lim }
}

// WithModelFactory replaces the OpenRouter model.
func WithModelFactory(f ModelFactory) Option {
	return func(s *Server) { s.newModel = f }
}

// WithLogger sets the request and lifecycle logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server for cfg.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		logger:  zerolog.Nop(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newModel == nil {
		s.newModel = OpenRouterModels(s.logger)
	}
	s.rate = NewIPRateLimiter(cfg.Server.RequestsPerMinute, time.Minute)
	s.SetConfig(cfg)
	s.engine = s.setupRoutes(cfg)
	return s
}

// SetConfig swaps in a reloaded config. Running requests keep the config
// they started with. Listen address, CORS origins and the usage backend
// are fixed at startup.
func (s *Server) SetConfig(cfg *config.Config) {
	fact, discovery := search.FromConfig(cfg.Search, s.logger)
	s.state.Store(&state{cfg: cfg, fact: fact, discovery: discovery})
	s.rate.SetLimit(cfg.Server.RequestsPerMinute)
}

// Config returns the current config.
func (s *Server) Config() *config.Config {
	return s.state.Load().cfg
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.SetTrustedProxies(nil)

	r.Use(
		RequestID(),
		Recovery(s.logger),
		RequestLogger(s.logger),
		SecurityHeaders(),
	)
	if len(cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.Server.AllowedOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", RequestIDHeader},
			ExposeHeaders: []string{"Content-Length", "Content-Disposition", RequestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.Use(BearerAuth(func() string { return s.Config().Server.Token }), BodyLimit(MaxRequestBodySize))
	{
		api.POST("/research", RateLimit(s.rate), s.handleResearch)
		api.POST("/report.pdf", s.handleReport("pdf"))
		api.POST("/report.md", s.handleReport("md"))
		api.GET("/usage", s.handleUsage)
	}
	return r
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Config().Server.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Research streams can run for research.timeout_secs; no write timeout.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.rate.Stop()
	return nil
}
