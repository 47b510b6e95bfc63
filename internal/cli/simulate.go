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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-kmespread/internal/scenario"
	"github.com/jeremyhahn/go-kmespread/pkg/kme"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
	"github.com/jeremyhahn/go-kmespread/pkg/share"
	"github.com/jeremyhahn/go-kmespread/pkg/storage/file"
)

func newSimulateCmd(cfg *Config) *cobra.Command {
	var (
		schemeName   string
		policyName   string
		secret       string
		topologyPath string
		storageDir   string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a spreading scenario in-process",
		Long: `Run a spreading scenario with every KME in this process and report
which KMEs reconstruct the secret.

Without --topology the eight-KME reference network is used:
  1 -> 2,3,4   2 -> 5,6   3 -> 5,6,7   4 -> 6,7   5 -> 8   6 -> 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scheme, err := share.New(schemeName)
			if err != nil {
				return err
			}
			policy, err := kme.ParsePolicy(policyName)
			if err != nil {
				return err
			}

			topo := scenario.Default()
			if topologyPath != "" {
				if topo, err = scenario.LoadTopology(topologyPath); err != nil {
					return err
				}
			}

			level := "warn"
			if cfg.Verbose {
				level = "debug"
			}
			log, err := logging.New(level, "text", cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			opts := scenario.Options{
				Scheme: scheme,
				Policy: policy,
				Secret: []byte(secret),
				Logger: log,
			}
			if storageDir != "" {
				opts.NewInbox = fileInbox(storageDir)
			}

			printVerbose(cfg, cmd.ErrOrStderr(), "running %d hops across %d KMEs with %s/%s",
				len(topo.Hops), len(topo.Nodes), scheme.Name(), policyName)

			report, err := scenario.Run(cmd.Context(), topo, opts)
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintReport(report)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&schemeName, "scheme", share.DefaultScheme, "secret sharing scheme (gf256, sssa, vault)")
	flags.StringVar(&policyName, "policy", "majority", "threshold policy (majority, unanimous, fixed:<t>)")
	flags.StringVar(&secret, "secret", scenario.DefaultSecret, "secret held by the origin KME")
	flags.StringVar(&topologyPath, "topology", "", "YAML or JSON topology file")
	flags.StringVar(&storageDir, "storage-dir", "", "keep each KME inbox in a file store under this directory")
	return cmd
}

// fileInbox opens a storage inbox per KME under dir/kme-<id>.
func fileInbox(dir string) func(int64) (kme.Inbox, error) {
	return func(id int64) (kme.Inbox, error) {
		path := filepath.Join(dir, fmt.Sprintf("kme-%d", id))
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, err
		}
		backend, err := file.New(path)
		if err != nil {
			return nil, err
		}
		return kme.NewStorageInbox(backend)
	}
}
