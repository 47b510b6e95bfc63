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

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newNodeCmd(cfg *Config) *cobra.Command {
	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Operate a running kmed node",
		Long:  `Inspect and drive a KME node over its REST API (see --server).`,
	}

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show what the node holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := cfg.CreateClient()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			status, err := cl.Status(cmd.Context())
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintStatus(status)
		},
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "spread <kme-id>...",
		Short: "Spread the node's holdings to peer KMEs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, len(args))
			for i, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid KME id %q", a)
				}
				ids[i] = id
			}

			cl, err := cfg.CreateClient()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			printVerbose(cfg, cmd.ErrOrStderr(), "spreading via %s to %v", cl.BaseURL(), ids)
			resp, err := cl.Spread(cmd.Context(), ids)
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).
				PrintSuccess(fmt.Sprintf("Spread to %d destinations", resp.Destinations))
		},
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "set-secret <secret>",
		Short: "Give the node a secret to spread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := cfg.CreateClient()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			if err := cl.SetSecret(cmd.Context(), []byte(args[0])); err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSuccess("Secret set")
		},
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "reconstruct",
		Short: "Reconstruct the secret from the node's inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := cfg.CreateClient()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			secret, err := cl.Reconstruct(cmd.Context())
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSecret(secret)
		},
	})

	return nodeCmd
}
