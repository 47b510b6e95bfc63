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

package share

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// MaxShares is the largest number of tokens a single split may produce.
	MaxShares = 255

	// SchemeGF256 is the native GF(2^8) Shamir engine.
	SchemeGF256 = "gf256"

	// SchemeSSSA is the sssa-golang engine over a 256-bit prime field.
	SchemeSSSA = "sssa"

	// SchemeVault is the HashiCorp Vault Shamir engine.
	SchemeVault = "vault"

	// DefaultScheme is used when no scheme name is configured.
	DefaultScheme = SchemeGF256
)

var (
	// ErrInvalidConfig is returned for share counts or thresholds outside
	// the supported range. It indicates a caller contract violation.
	ErrInvalidConfig = errors.New("share: invalid split configuration")

	// ErrEmptyPayload is returned when asked to split nothing.
	ErrEmptyPayload = errors.New("share: payload cannot be empty")

	// ErrMalformedShares is returned when a token set cannot be combined.
	ErrMalformedShares = errors.New("share: malformed shares")

	// ErrUnknownScheme is returned by New for unregistered scheme names.
	ErrUnknownScheme = errors.New("share: unknown scheme")
)

// Scheme is a threshold secret sharing primitive.
//
// Split returns exactly total tokens indexed 1..total such that any
// threshold of them reconstruct payload. Combine reconstructs the payload
// from a token set; it cannot know the threshold, so fewer tokens than
// required produce an error or an unrelated value, never the payload.
// Schemes leave Token.Kind untouched.
type Scheme interface {
	Name() string
	Split(payload []byte, total, threshold int) ([]Token, error)
	Combine(tokens []Token) ([]byte, error)
}

var registry = map[string]func() Scheme{
	SchemeGF256: func() Scheme { return NewGF256() },
	SchemeSSSA:  func() Scheme { return NewSSSA() },
	SchemeVault: func() Scheme { return NewVault() },
}

// New returns the scheme registered under name. An empty name selects
// DefaultScheme.
func New(name string) (Scheme, error) {
	if name == "" {
		name = DefaultScheme
	}
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (must be one of %s)", ErrUnknownScheme, name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names returns the registered scheme names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateConfig checks split parameters common to every scheme.
func ValidateConfig(total, threshold int) error {
	if total < 2 || total > MaxShares {
		return fmt.Errorf("%w: total shares must be in 2..%d, got %d", ErrInvalidConfig, MaxShares, total)
	}
	if threshold < 1 || threshold > total {
		return fmt.Errorf("%w: threshold must be in 1..%d, got %d", ErrInvalidConfig, total, threshold)
	}
	return nil
}

// Replicate produces the degenerate 1-of-total sharing where every token
// carries the payload itself. Any single token reconstructs it.
func Replicate(payload []byte, total int) ([]Token, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if total < 1 || total > MaxShares {
		return nil, fmt.Errorf("%w: total shares must be in 1..%d, got %d", ErrInvalidConfig, MaxShares, total)
	}
	tokens := make([]Token, total)
	for i := range tokens {
		data := make([]byte, len(payload))
		copy(data, payload)
		tokens[i] = Token{Index: byte(i + 1), Data: data}
	}
	return tokens, nil
}

// checkCombinable rejects token sets no scheme can interpolate: empty sets,
// repeated indices and uneven share lengths.
func checkCombinable(tokens []Token) error {
	if len(tokens) == 0 {
		return fmt.Errorf("%w: no shares provided", ErrMalformedShares)
	}
	seen := make(map[uint8]struct{}, len(tokens))
	size := len(tokens[0].Data)
	for i, t := range tokens {
		if t.Index == 0 {
			return fmt.Errorf("%w: share %d has invalid index 0", ErrMalformedShares, i)
		}
		if len(t.Data) == 0 {
			return fmt.Errorf("%w: share %d has empty value", ErrMalformedShares, i)
		}
		if len(t.Data) != size {
			return fmt.Errorf("%w: share %d has length %d, expected %d", ErrMalformedShares, i, len(t.Data), size)
		}
		if _, dup := seen[t.Index]; dup {
			return fmt.Errorf("%w: duplicate share index %d", ErrMalformedShares, t.Index)
		}
		seen[t.Index] = struct{}{}
	}
	return nil
}
