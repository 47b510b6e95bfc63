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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-kmespread/internal/scenario"
	"github.com/jeremyhahn/go-kmespread/pkg/kme"
	"github.com/jeremyhahn/go-kmespread/pkg/share"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintReport prints the outcome of a simulated spreading run.
func (p *Printer) PrintReport(report *scenario.Report) error {
	switch p.format {
	case OutputFormatJSON:
		recovered := report.Recovered()
		if recovered == nil {
			recovered = []int64{}
		}
		return p.printJSON(map[string]interface{}{
			"scheme":     report.Scheme,
			"results":    report.Results,
			"recovered":  recovered,
			"elapsed_ms": report.Elapsed.Milliseconds(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Scheme: %s\n", report.Scheme)
		for _, res := range report.Results {
			mark := "-"
			if res.Recovered {
				mark = "recovered"
			}
			fmt.Fprintf(p.writer, "  KME %-4d envelopes=%-3d %s\n", res.ID, res.Envelopes, mark)
		}
		ids := make([]string, 0, len(report.Results))
		for _, id := range report.Recovered() {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		if len(ids) == 0 {
			fmt.Fprintln(p.writer, "No KME recovered the secret")
		} else {
			fmt.Fprintf(p.writer, "Recovered by: %s\n", strings.Join(ids, ", "))
		}
		fmt.Fprintf(p.writer, "Elapsed: %s\n", report.Elapsed)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintTokens prints shares one per line as index:base64.
func (p *Printer) PrintTokens(tokens []share.Token) error {
	switch p.format {
	case OutputFormatJSON:
		out := make([]map[string]interface{}, len(tokens))
		for i, t := range tokens {
			out[i] = map[string]interface{}{
				"index": t.Index,
				"data":  base64.StdEncoding.EncodeToString(t.Data),
			}
		}
		return p.printJSON(map[string]interface{}{"tokens": out})
	case OutputFormatText:
		for _, t := range tokens {
			fmt.Fprintln(p.writer, FormatToken(t))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSecret prints a reconstructed secret.
func (p *Printer) PrintSecret(secret []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{"secret": secret})
	case OutputFormatText:
		fmt.Fprintln(p.writer, string(secret))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintStatus prints a node's status.
func (p *Printer) PrintStatus(status *kme.Status) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(status)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "KME:        %d\n", status.ID)
		fmt.Fprintf(p.writer, "Scheme:     %s\n", status.Scheme)
		fmt.Fprintf(p.writer, "Has secret: %t\n", status.HasSecret)
		fmt.Fprintf(p.writer, "Envelopes:  %d\n", status.Envelopes)
		for _, g := range status.Generators {
			fmt.Fprintf(p.writer, "  from KME %d: %d\n", g.Generator, g.Envelopes)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"success": true,
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// FormatToken renders a share as index:base64.
func FormatToken(t share.Token) string {
	return fmt.Sprintf("%d:%s", t.Index, base64.StdEncoding.EncodeToString(t.Data))
}

// ParseToken parses a share rendered by FormatToken.
func ParseToken(s string) (share.Token, error) {
	idx, data, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return share.Token{}, fmt.Errorf("invalid share %q: expected index:base64", s)
	}
	n, err := strconv.ParseUint(idx, 10, 8)
	if err != nil || n == 0 {
		return share.Token{}, fmt.Errorf("invalid share index %q", idx)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return share.Token{}, fmt.Errorf("invalid share data: %w", err)
	}
	return share.Token{Index: uint8(n), Data: raw}, nil
}
