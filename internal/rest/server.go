// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-kmespread.
//
// go-kmespread is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-kmespread/pkg/kme"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
	"github.com/jeremyhahn/go-kmespread/pkg/metrics"
	"github.com/jeremyhahn/go-kmespread/pkg/ratelimit"
)

// Node is the KME served by the API. *kme.KME implements it.
type Node interface {
	ID() int64
	Receive(ctx context.Context, data []byte) error
	Spread(ctx context.Context, destinations []kme.Peer) error
	SetSecret(secret []byte) error
	TryReconstruct() ([]byte, bool)
	Status() (kme.Status, error)
}

// PeerResolver maps a KME identity to a deliverable peer.
type PeerResolver func(id int64) (kme.Peer, bool)

// Server represents the REST API server.
type Server struct {
	server    *http.Server
	handlers  *HandlerContext
	tlsConfig *tls.Config
	limiter   *ratelimit.Limiter
	logger    logging.Logger
	metrics   string
	maxBody   int64
}

// Config holds the REST server configuration.
type Config struct {
	// Address is the host:port to listen on (default: :8443)
	Address string

	// Node is the KME behind the API
	Node Node

	// Peers resolves spread destinations (optional, no destinations when nil)
	Peers PeerResolver

	// Version is the API version string
	Version string

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// Logger is the logging adapter (optional)
	Logger logging.Logger

	// HealthChecker backs the probe endpoints (optional)
	HealthChecker HealthChecker

	// RateLimiter limits envelope deliveries per peer (optional)
	RateLimiter *ratelimit.Limiter

	// MetricsPath serves Prometheus metrics when not empty
	MetricsPath string

	// MaxBodyBytes caps request bodies (default: 1 MiB)
	MaxBodyBytes int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Node == nil {
		return nil, fmt.Errorf("node is required")
	}

	// Set defaults
	if cfg.Address == "" {
		cfg.Address = ":8443"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	peers := cfg.Peers
	if peers == nil {
		peers = func(int64) (kme.Peer, bool) { return nil, false }
	}

	log := cfg.Logger
	if log == nil {
		log = logging.NewSlogAdapter(&logging.SlogConfig{
			Level: logging.LevelInfo,
		})
	}

	handlers := NewHandlerContext(cfg.Node, peers, cfg.Version)
	handlers.SetHealthChecker(cfg.HealthChecker)

	server := &Server{
		handlers:  handlers,
		tlsConfig: cfg.TLSConfig,
		limiter:   cfg.RateLimiter,
		logger:    log.With(logging.String("component", "rest")),
		metrics:   cfg.MetricsPath,
		maxBody:   cfg.MaxBodyBytes,
	}
	handlers.logger = server.logger

	server.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      server.setupRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(s.CorrelationMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", s.handlers.HealthHandler)
	r.Head("/health", s.handlers.HealthHandler)
	r.Get("/health/live", s.handlers.LivenessHandler)
	r.Get("/health/ready", s.handlers.ReadinessHandler)

	if s.metrics != "" {
		r.Handle(s.metrics, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BodyLimitMiddleware(s.maxBody))

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(ratelimit.Middleware(s.limiter))
			}
			r.Post("/envelopes", s.handlers.ReceiveHandler)
		})

		r.Post("/spread", s.handlers.SpreadHandler)
		r.Put("/secret", s.handlers.SetSecretHandler)
		r.Get("/secret", s.handlers.ReconstructHandler)
		r.Get("/status", s.handlers.StatusHandler)
	})

	return r
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves the API on ln, over TLS when configured.
func (s *Server) Serve(ln net.Listener) error {
	if s.tlsConfig != nil {
		s.logger.Info("Starting HTTPS server", logging.String("address", ln.Addr().String()))
		if err := s.server.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
		return nil
	}

	s.logger.Info("Starting HTTP server", logging.String("address", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logging.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.server.Addr
}
