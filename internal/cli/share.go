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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-kmespread/pkg/share"
)

func newSplitCmd(cfg *Config) *cobra.Command {
	var (
		schemeName string
		total      int
		threshold  int
		inPath     string
	)

	cmd := &cobra.Command{
		Use:   "split [secret]",
		Short: "Split a secret into shares",
		Long: `Split a secret into --total shares, any --threshold of which
reconstruct it. The secret is read from the argument, --in, or stdin.
Shares are printed one per line as index:base64.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd, args, inPath)
			if err != nil {
				return err
			}

			var tokens []share.Token
			if threshold == 1 {
				tokens, err = share.Replicate(secret, total)
			} else {
				var scheme share.Scheme
				if scheme, err = share.New(schemeName); err != nil {
					return err
				}
				tokens, err = scheme.Split(secret, total, threshold)
			}
			if err != nil {
				return err
			}
			printVerbose(cfg, cmd.ErrOrStderr(), "split %d bytes into %d shares (threshold %d)", len(secret), total, threshold)
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintTokens(tokens)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&schemeName, "scheme", share.DefaultScheme, "secret sharing scheme (gf256, sssa, vault)")
	flags.IntVarP(&total, "total", "n", 3, "number of shares")
	flags.IntVarP(&threshold, "threshold", "t", 2, "shares required to reconstruct")
	flags.StringVar(&inPath, "in", "", "read the secret from this file")
	return cmd
}

func newCombineCmd(cfg *Config) *cobra.Command {
	var (
		schemeName string
		inPath     string
	)

	cmd := &cobra.Command{
		Use:   "combine [share...]",
		Short: "Reconstruct a secret from shares",
		Long: `Reconstruct a secret from index:base64 shares given as arguments,
or one per line from --in or stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines := args
			if len(lines) == 0 {
				data, err := readInput(cmd, inPath)
				if err != nil {
					return err
				}
				scanner := bufio.NewScanner(bytes.NewReader(data))
				for scanner.Scan() {
					if line := strings.TrimSpace(scanner.Text()); line != "" {
						lines = append(lines, line)
					}
				}
				if err := scanner.Err(); err != nil {
					return err
				}
			}
			if len(lines) == 0 {
				return errors.New("no shares provided")
			}

			tokens := make([]share.Token, 0, len(lines))
			for _, line := range lines {
				t, err := ParseToken(line)
				if err != nil {
					return err
				}
				tokens = append(tokens, t)
			}

			scheme, err := share.New(schemeName)
			if err != nil {
				return err
			}
			secret, err := scheme.Combine(tokens)
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSecret(secret)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&schemeName, "scheme", share.DefaultScheme, "secret sharing scheme (gf256, sssa, vault)")
	flags.StringVar(&inPath, "in", "", "read shares from this file")
	return cmd
}

func readSecret(cmd *cobra.Command, args []string, path string) ([]byte, error) {
	if len(args) == 1 {
		return []byte(args[0]), nil
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return nil, share.ErrEmptyPayload
	}
	return data, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return data, nil
	}
	return io.ReadAll(cmd.InOrStdin())
}
