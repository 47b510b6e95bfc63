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

// Package scenario runs a spread topology in-process: an origin KME holding
// a secret, a sequence of spread hops between KMEs, and a final
// reconstruction attempt on every KME.
package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-kmespread/pkg/kme"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
	"github.com/jeremyhahn/go-kmespread/pkg/share"
)

// DefaultSecret is the secret the default scenario spreads.
const DefaultSecret = "This string is so secret"

// ErrInvalidTopology is returned for topologies that cannot be run.
var ErrInvalidTopology = errors.New("scenario: invalid topology")

// Hop is one spread: From spreads everything it holds to To, in order.
type Hop struct {
	From int64   `yaml:"from" json:"from"`
	To   []int64 `yaml:"to" json:"to"`
}

// Topology describes the KMEs of a run and the spreads between them.
type Topology struct {
	Origin int64   `yaml:"origin" json:"origin"`
	Nodes  []int64 `yaml:"nodes" json:"nodes"`
	Hops   []Hop   `yaml:"hops" json:"hops"`
}

// Default returns the eight-KME tree: KME 1 spreads to 2, 3 and 4, the
// second level spreads to 5, 6 and 7, and 5 and 6 spread to KME 8. With the
// majority policy KME 8 recovers the secret and no other KME does.
func Default() Topology {
	return Topology{
		Origin: 1,
		Nodes:  []int64{1, 2, 3, 4, 5, 6, 7, 8},
		Hops: []Hop{
			{From: 1, To: []int64{2, 3, 4}},
			{From: 2, To: []int64{5, 6}},
			{From: 3, To: []int64{5, 6, 7}},
			{From: 4, To: []int64{6, 7}},
			{From: 5, To: []int64{8}},
			{From: 6, To: []int64{8}},
		},
	}
}

// LoadTopology reads a YAML topology file.
func LoadTopology(path string) (Topology, error) {
	// #nosec G304 - topology path from operator
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("failed to read topology: %w", err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("%w: %w", ErrInvalidTopology, err)
	}
	return t, t.Validate()
}

// Validate checks that every KME is declared once and every hop names
// declared KMEs.
func (t Topology) Validate() error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidTopology)
	}
	known := make(map[int64]struct{}, len(t.Nodes))
	for _, id := range t.Nodes {
		if _, dup := known[id]; dup {
			return fmt.Errorf("%w: node %d declared twice", ErrInvalidTopology, id)
		}
		known[id] = struct{}{}
	}
	if _, ok := known[t.Origin]; !ok {
		return fmt.Errorf("%w: origin %d is not a node", ErrInvalidTopology, t.Origin)
	}
	for i, h := range t.Hops {
		if _, ok := known[h.From]; !ok {
			return fmt.Errorf("%w: hop %d: unknown sender %d", ErrInvalidTopology, i, h.From)
		}
		if len(h.To) == 0 {
			return fmt.Errorf("%w: hop %d: no destinations", ErrInvalidTopology, i)
		}
		for _, to := range h.To {
			if _, ok := known[to]; !ok {
				return fmt.Errorf("%w: hop %d: unknown destination %d", ErrInvalidTopology, i, to)
			}
		}
	}
	return nil
}

// Options configures a run. Zero values select the gf256 scheme, the
// majority policy, DefaultSecret and in-memory inboxes.
type Options struct {
	Scheme   share.Scheme
	Policy   kme.ThresholdPolicy
	Secret   []byte
	Logger   logging.Logger
	NewInbox func(id int64) (kme.Inbox, error)
}

// Result is the outcome for one KME.
type Result struct {
	ID        int64 `json:"id"`
	Envelopes int   `json:"envelopes"`
	Recovered bool  `json:"recovered"`
}

// Report is the outcome of a run.
type Report struct {
	Scheme  string        `json:"scheme"`
	Results []Result      `json:"results"`
	Elapsed time.Duration `json:"elapsed"`
}

// Recovered returns the KMEs that reconstructed the original secret.
func (r *Report) Recovered() []int64 {
	var ids []int64
	for _, res := range r.Results {
		if res.Recovered {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Run executes topology t and reports which KMEs recover the secret.
func Run(ctx context.Context, t Topology, opts Options) (*Report, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if opts.Scheme == nil {
		opts.Scheme = share.NewGF256()
	}
	if opts.Policy == nil {
		opts.Policy = kme.Majority
	}
	if len(opts.Secret) == 0 {
		opts.Secret = []byte(DefaultSecret)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	start := time.Now()
	kmes := make(map[int64]*kme.KME, len(t.Nodes))
	for _, id := range t.Nodes {
		kopts := []kme.Option{
			kme.WithScheme(opts.Scheme),
			kme.WithThresholdPolicy(opts.Policy),
			kme.WithLogger(opts.Logger),
		}
		if opts.NewInbox != nil {
			inbox, err := opts.NewInbox(id)
			if err != nil {
				return nil, fmt.Errorf("kme %d: failed to open inbox: %w", id, err)
			}
			kopts = append(kopts, kme.WithInbox(inbox))
		}
		k, err := kme.New(id, kopts...)
		if err != nil {
			return nil, err
		}
		kmes[id] = k
	}

	if err := kmes[t.Origin].SetSecret(opts.Secret); err != nil {
		return nil, err
	}

	for i, h := range t.Hops {
		dests := make([]kme.Peer, len(h.To))
		for j, to := range h.To {
			dests[j] = kmes[to]
		}
		if err := kmes[h.From].Spread(ctx, dests); err != nil {
			return nil, fmt.Errorf("hop %d (kme %d): %w", i, h.From, err)
		}
		opts.Logger.Debug("hop complete",
			logging.Int("hop", i),
			logging.Int64("from", h.From),
			logging.Int("destinations", len(h.To)))
	}

	report := &Report{Scheme: opts.Scheme.Name()}
	ids := slices.Clone(t.Nodes)
	slices.Sort(ids)
	for _, id := range ids {
		k := kmes[id]
		status, err := k.Status()
		if err != nil {
			return nil, err
		}
		secret, ok := k.TryReconstruct()
		report.Results = append(report.Results, Result{
			ID:        id,
			Envelopes: status.Envelopes,
			Recovered: ok && bytes.Equal(secret, opts.Secret),
		})
	}
	report.Elapsed = time.Since(start)
	return report, nil
}
