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
	"bytes"
	"encoding/base64"
	"fmt"
)

// Kind tags what a token's reconstructed payload contains.
type Kind uint8

const (
	// KindRawSecret means the reconstructed payload is the original secret.
	KindRawSecret Kind = 1

	// KindNestedEnvelope means the reconstructed payload is a serialized
	// envelope produced by an upstream split.
	KindNestedEnvelope Kind = 2
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindRawSecret:
		return "RawSecret"
	case KindNestedEnvelope:
		return "NestedEnvelope"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindRawSecret || k == KindNestedEnvelope
}

// Token is a single share produced by one split operation.
type Token struct {
	// Index is the share position within its split (1-255)
	Index uint8

	// Data is the opaque share value produced by the scheme
	Data []byte

	// Kind is set by the caller, never by the scheme
	Kind Kind
}

// Validate checks that the token is structurally usable.
func (t *Token) Validate() error {
	if t.Index == 0 {
		return fmt.Errorf("%w: token index must be in 1..255", ErrMalformedShares)
	}
	if len(t.Data) == 0 {
		return fmt.Errorf("%w: token %d has empty data", ErrMalformedShares, t.Index)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: token %d has unknown kind %d", ErrMalformedShares, t.Index, t.Kind)
	}
	return nil
}

// Equal reports whether two tokens are the same share, byte for byte.
func (t Token) Equal(other Token) bool {
	return t.Index == other.Index && t.Kind == other.Kind && bytes.Equal(t.Data, other.Data)
}

// Clone returns a deep copy of the token.
func (t Token) Clone() Token {
	data := make([]byte, len(t.Data))
	copy(data, t.Data)
	return Token{Index: t.Index, Data: data, Kind: t.Kind}
}

// String returns a string representation of the token (for debugging)
func (t Token) String() string {
	enc := base64.StdEncoding.EncodeToString(t.Data)
	return fmt.Sprintf("Token{Index: %d, Kind: %s, Data: %s...}", t.Index, t.Kind, enc[:min(len(enc), 16)])
}

// Tag sets kind on every token in place and returns the slice.
func Tag(tokens []Token, kind Kind) []Token {
	for i := range tokens {
		tokens[i].Kind = kind
	}
	return tokens
}

// Dedupe drops byte-identical duplicates, keeping first occurrence order.
// Tokens sharing an index but differing in data are all kept so the scheme
// can reject them.
func Dedupe(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		dup := false
		for _, seen := range out {
			if seen.Equal(t) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	return out
}
