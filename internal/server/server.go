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

// Package server wires a KME node daemon together: configuration, inbox
// storage, the KME, its remote peers and the REST API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-kmespread/internal/config"
	"github.com/jeremyhahn/go-kmespread/internal/rest"
	"github.com/jeremyhahn/go-kmespread/pkg/health"
	"github.com/jeremyhahn/go-kmespread/pkg/kme"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
	"github.com/jeremyhahn/go-kmespread/pkg/metrics"
	"github.com/jeremyhahn/go-kmespread/pkg/ratelimit"
	"github.com/jeremyhahn/go-kmespread/pkg/share"
	"github.com/jeremyhahn/go-kmespread/pkg/storage"
	"github.com/jeremyhahn/go-kmespread/pkg/storage/file"
)

// Server is a running KME node.
type Server struct {
	config *config.Config
	mu     sync.RWMutex
	logger logging.Logger

	backend storage.Backend
	inbox   *kme.StorageInbox
	node    *kme.KME
	peers   *peerSet

	restServer    *rest.Server
	healthChecker *health.Checker
	limiter       *ratelimit.Limiter
	collector     *metrics.ResourceCollector

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	shutdownCh chan struct{}
	errCh      chan error
}

// New builds a node from cfg. Nothing listens until Start.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := setupLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
		errCh:      make(chan error, 1),
	}

	if err := s.initializeStorage(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := s.initializeNode(); err != nil {
		cancel()
		s.closeStorage()
		return nil, fmt.Errorf("failed to initialize kme: %w", err)
	}

	if err := s.initializePeers(); err != nil {
		cancel()
		s.closeStorage()
		return nil, fmt.Errorf("failed to initialize peers: %w", err)
	}

	s.initializeHealth()

	if err := s.initializeREST(); err != nil {
		cancel()
		s.closeStorage()
		return nil, fmt.Errorf("failed to initialize REST server: %w", err)
	}

	return s, nil
}

// setupLogger configures the logger based on config
func setupLogger(cfg config.LoggingConfig) (*logging.SlogAdapter, error) {
	return logging.New(cfg.Level, cfg.Format, os.Stdout)
}

// getBuildVersion retrieves the version from build information
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.version" {
			if setting.Value != "" && setting.Value != "devel" {
				return setting.Value
			}
		}
		if setting.Key == "vcs.revision" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	return "dev"
}

// initializeStorage opens the backend that holds the inbox and secret.
func (s *Server) initializeStorage() error {
	switch s.config.Storage.Backend {
	case config.StorageFile:
		backend, err := file.New(s.config.Storage.Path)
		if err != nil {
			return err
		}
		s.backend = backend
		s.logger.Info("Using file storage", logging.String("path", s.config.Storage.Path))
	default:
		s.backend = storage.NewMemory()
		s.logger.Info("Using memory storage")
	}
	return nil
}

func (s *Server) initializeNode() error {
	scheme, err := share.New(s.config.Node.Scheme)
	if err != nil {
		return err
	}
	policy, err := kme.ParsePolicy(s.config.Node.ThresholdPolicy)
	if err != nil {
		return err
	}

	s.inbox, err = kme.NewStorageInbox(s.backend)
	if err != nil {
		return err
	}

	s.node, err = kme.New(s.config.Node.ID,
		kme.WithScheme(scheme),
		kme.WithThresholdPolicy(policy),
		kme.WithInbox(s.inbox),
		kme.WithLogger(s.logger))
	if err != nil {
		return err
	}

	held, err := s.inbox.Len()
	if err != nil {
		return err
	}
	s.logger.Info("KME initialized",
		logging.Int64("kme", s.config.Node.ID),
		logging.String("scheme", scheme.Name()),
		logging.String("threshold_policy", s.config.Node.ThresholdPolicy),
		logging.Int("envelopes", held),
		logging.Bool("has_secret", s.node.HasSecret()))
	return nil
}

func (s *Server) initializePeers() error {
	tlsConfig, err := s.config.TLS.LoadClientTLSConfig()
	if err != nil {
		return err
	}
	s.peers, err = newPeerSet(s.config.Node.ID, s.config.Peers, tlsConfig, s.config.Server.WriteTimeout)
	if err != nil {
		return err
	}
	s.logger.Info("Peers configured", logging.Any("peers", s.peers.IDs()))
	return nil
}

// initializeHealth creates and configures the health checker.
func (s *Server) initializeHealth() {
	if !s.config.Health.Enabled {
		return
	}
	s.healthChecker = health.NewChecker()
	s.healthChecker.RegisterCheck("storage", health.StorageCheck(s.backend))
	s.healthChecker.RegisterCheck("inbox", health.InboxCheck(s.inbox.Len, s.config.Health.InboxLimit))
}

func (s *Server) initializeREST() error {
	tlsConfig, err := s.config.TLS.LoadTLSConfig()
	if err != nil {
		return err
	}

	if s.config.RateLimit.Enabled {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: s.config.RateLimit.RequestsPerMin,
			Burst:             s.config.RateLimit.Burst,
		})
	}

	restConfig := &rest.Config{
		Address:      s.config.Address(),
		Node:         s.node,
		Peers:        s.peers.Lookup,
		Version:      getBuildVersion(),
		TLSConfig:    tlsConfig,
		Logger:       s.logger,
		RateLimiter:  s.limiter,
		MaxBodyBytes: s.config.Server.MaxBodyBytes,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}
	if s.healthChecker != nil {
		restConfig.HealthChecker = s.healthChecker
	}
	if s.config.Metrics.Enabled {
		restConfig.MetricsPath = s.config.Metrics.Path
	}

	s.restServer, err = rest.NewServer(restConfig)
	return err
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}
	return s.Serve(ln)
}

// Serve starts the node on ln in the background.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting KME node", logging.String("address", ln.Addr().String()))

	if s.config.Metrics.Enabled {
		metrics.Enable()
		s.collector = metrics.NewResourceCollector(30 * time.Second)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.collector.Run(s.ctx)
		}()
	} else {
		metrics.Disable()
	}

	if s.limiter != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.limiter.Run(s.ctx, 5*time.Minute)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.restServer.Serve(ln); err != nil {
			s.logger.Error("REST server error", logging.Error(err))
			s.errCh <- err
		}
	}()

	if s.healthChecker != nil {
		s.healthChecker.MarkStarted()
	}
	s.logger.Info("KME node started", logging.Int64("kme", s.config.Node.ID))
	return nil
}

// Errors reports a fatal serving error.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully stops the node and closes its storage.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down KME node...")
	if s.healthChecker != nil {
		s.healthChecker.MarkNotStarted()
	}

	s.cancel()

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.restServer.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	s.peers.Close()
	if err := s.closeStorage(); err != nil {
		errs = append(errs, err)
	}

	close(s.shutdownCh)
	s.logger.Info("KME node shutdown complete")
	return errors.Join(errs...)
}

func (s *Server) closeStorage() error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Error("Error closing storage", logging.Error(err))
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}

// WaitForShutdown blocks until the server is shut down
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM and a
// channel that receives on SIGHUP.
func SetupSignalHandler() (context.Context, <-chan os.Signal) {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)

	go func() {
		<-signalCh
		cancel()
	}()

	return ctx, reloadCh
}

// KME returns the node's KME.
func (s *Server) KME() *kme.KME {
	return s.node
}

// RESTServer returns the REST server instance
func (s *Server) RESTServer() *rest.Server {
	return s.restServer
}
