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

// Package cli implements the kmespread command line tool.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the kmespread command tree around cfg.
func NewRootCommand(cfg *Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kmespread",
		Short: "kmespread - recursive threshold secret sharing between KMEs",
		Long: `kmespread spreads a secret across a network of Key Management Entities.
Each KME splits what it holds among its destinations with threshold
secret sharing and the shares are re-split at every hop; a KME that
gathers enough shares along every branch reconstructs the secret.

Commands run either in-process (simulate, split, combine) or against
a running kmed node (node ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.ConfigFile, "config", "", "config file (default is $HOME/.kmespread.yaml)")
	flags.StringVar(&cfg.Server, "server", cfg.Server, "KME node URL for node commands")
	flags.StringVarP(&cfg.OutputFormat, "output", "o", cfg.OutputFormat, "output format (text, json)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "verbose output")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "request timeout for node commands")
	flags.BoolVar(&cfg.TLSInsecure, "tls-insecure", false, "skip TLS certificate verification")
	flags.StringVar(&cfg.TLSCert, "tls-cert", "", "client certificate file (mTLS)")
	flags.StringVar(&cfg.TLSKey, "tls-key", "", "client key file (mTLS)")
	flags.StringVar(&cfg.TLSCACert, "tls-ca", "", "CA certificate file")

	rootCmd.AddCommand(newVersionCmd(cfg))
	rootCmd.AddCommand(newSimulateCmd(cfg))
	rootCmd.AddCommand(newSplitCmd(cfg))
	rootCmd.AddCommand(newCombineCmd(cfg))
	rootCmd.AddCommand(newNodeCmd(cfg))

	return rootCmd
}

// Execute runs the CLI and prints a failure to stderr.
func Execute() error {
	cfg := NewConfig()
	err := NewRootCommand(cfg).Execute()
	if err != nil {
		printer := NewPrinter(cfg.OutputFormat, os.Stderr)
		_ = printer.PrintError(err) // Error printing to stderr is best-effort
	}
	return err
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(cfg *Config, w io.Writer, format string, args ...interface{}) {
	if cfg.Verbose {
		fmt.Fprintf(w, "[VERBOSE] "+format+"\n", args...)
	}
}
