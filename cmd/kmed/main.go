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

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jeremyhahn/go-kmespread/internal/config"
	"github.com/jeremyhahn/go-kmespread/internal/server"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults plus KMESPREAD_* environment when empty)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kmed\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	if envConfig := os.Getenv("KMESPREAD_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	load := func() (*config.Config, error) {
		if *configPath == "" {
			return config.Parse([]byte("{}"))
		}
		return config.Load(*configPath)
	}

	cfg, err := load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	srv, err := server.New(cfg)
	if err != nil {
		slog.Error("Failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownCtx, reloadCh := server.SetupSignalHandler()

	if err := srv.Start(); err != nil {
		slog.Error("Failed to start server", slog.Any("error", err))
		os.Exit(1)
	}

	exitCode := 0
loop:
	for {
		select {
		case <-shutdownCtx.Done():
			break loop
		case err := <-srv.Errors():
			slog.Error("Server failed", slog.Any("error", err))
			exitCode = 1
			break loop
		case <-reloadCh:
			next, err := load()
			if err != nil {
				slog.Error("Failed to reload configuration", slog.Any("error", err))
				continue
			}
			if err := srv.Reload(next); err != nil {
				slog.Error("Failed to apply configuration", slog.Any("error", err))
			}
		}
	}

	if err := srv.Shutdown(); err != nil {
		slog.Error("Error during shutdown", slog.Any("error", err))
		os.Exit(1)
	}
	os.Exit(exitCode)
}
