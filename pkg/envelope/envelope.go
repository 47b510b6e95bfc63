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

// Package envelope wraps share tokens with the provenance needed to regroup
// them during reconstruction.
package envelope

import (
	"fmt"
	"sort"

	"github.com/jeremyhahn/go-kmespread/pkg/share"
)

// Envelope is a share token plus the identity of the KME that split it and
// the threshold that KME chose.
type Envelope struct {
	// Generator is the KME that performed the split producing Token
	Generator int64

	// Threshold is how many sibling tokens from the same split are required
	Threshold uint8

	// Split distinguishes independent splits by the same generator.
	// Envelopes built with Wrap share split 0.
	Split uint64

	// Token is the wrapped share
	Token share.Token
}

// Key identifies the set of sibling envelopes an envelope can be combined with.
type Key struct {
	Generator int64
	Split     uint64
}

// Wrap creates an envelope for token.
func Wrap(generator int64, threshold uint8, token share.Token) *Envelope {
	return &Envelope{
		Generator: generator,
		Threshold: threshold,
		Token:     token,
	}
}

// Key returns the sibling grouping key of the envelope.
func (e *Envelope) Key() Key {
	return Key{Generator: e.Generator, Split: e.Split}
}

// Validate checks the envelope invariants enforced on the wire.
func (e *Envelope) Validate() error {
	if e.Threshold == 0 {
		return fmt.Errorf("%w: threshold must be at least 1", ErrMalformed)
	}
	if err := e.Token.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	return &Envelope{
		Generator: e.Generator,
		Threshold: e.Threshold,
		Split:     e.Split,
		Token:     e.Token.Clone(),
	}
}

// Equal reports whether two envelopes carry the same provenance and token.
func (e *Envelope) Equal(other *Envelope) bool {
	if other == nil {
		return false
	}
	return e.Generator == other.Generator &&
		e.Threshold == other.Threshold &&
		e.Split == other.Split &&
		e.Token.Equal(other.Token)
}

// String returns a string representation of the envelope (for logging)
func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{Generator: %d, Threshold: %d, Split: %d, Token: %s}",
		e.Generator, e.Threshold, e.Split, e.Token)
}

// GroupByGenerator buckets envelopes by generator identity. Envelopes from
// different generators are never placed in the same bucket.
func GroupByGenerator(envs []*Envelope) map[int64][]*Envelope {
	groups := make(map[int64][]*Envelope)
	for _, e := range envs {
		groups[e.Generator] = append(groups[e.Generator], e)
	}
	return groups
}

// GroupBySplit partitions one generator's envelopes by split.
func GroupBySplit(envs []*Envelope) map[uint64][]*Envelope {
	groups := make(map[uint64][]*Envelope)
	for _, e := range envs {
		groups[e.Split] = append(groups[e.Split], e)
	}
	return groups
}

// Generators returns the distinct generator identities in ascending order.
func Generators(groups map[int64][]*Envelope) []int64 {
	ids := make([]int64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
