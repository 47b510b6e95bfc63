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

package server

import (
	"fmt"

	"github.com/jeremyhahn/go-kmespread/internal/config"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
)

// Reload applies the parts of cfg that can change without a restart: the
// peer list and logging. Node identity, scheme, storage and the listener
// require a restart.
func (s *Server) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Node != s.config.Node {
		return fmt.Errorf("node settings changed: restart required")
	}
	if cfg.Storage != s.config.Storage || cfg.Address() != s.config.Address() {
		return fmt.Errorf("storage or listener changed: restart required")
	}

	s.logger.Info("Reloading server configuration...")

	if err := s.reloadLogging(cfg); err != nil {
		return fmt.Errorf("failed to reload logging configuration: %w", err)
	}

	tlsConfig, err := cfg.TLS.LoadClientTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to reload peer TLS: %w", err)
	}
	if err := s.peers.set(cfg.Node.ID, cfg.Peers, tlsConfig, cfg.Server.WriteTimeout); err != nil {
		return fmt.Errorf("failed to reload peers: %w", err)
	}

	s.config = cfg
	s.logger.Info("Server configuration reloaded successfully", logging.Any("peers", s.peers.IDs()))
	return nil
}

// reloadLogging updates the logging configuration. Loggers already handed
// to the KME and REST server keep their settings.
func (s *Server) reloadLogging(cfg *config.Config) error {
	if cfg.Logging == s.config.Logging {
		return nil
	}

	s.logger.Info("Updating logging configuration",
		logging.String("old_level", s.config.Logging.Level),
		logging.String("new_level", cfg.Logging.Level),
		logging.String("old_format", s.config.Logging.Format),
		logging.String("new_format", cfg.Logging.Format))

	newLogger, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	s.logger = newLogger
	return nil
}
