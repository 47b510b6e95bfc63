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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	assert.Equal(t, "RawSecret", KindRawSecret.String())
	assert.Equal(t, "NestedEnvelope", KindNestedEnvelope.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
	assert.False(t, Kind(0).Valid())
}

func TestToken_Validate(t *testing.T) {
	tests := []struct {
		name    string
		token   Token
		wantErr bool
	}{
		{name: "valid", token: Token{Index: 1, Data: []byte{1}, Kind: KindRawSecret}},
		{name: "zero index", token: Token{Index: 0, Data: []byte{1}, Kind: KindRawSecret}, wantErr: true},
		{name: "empty data", token: Token{Index: 2, Kind: KindNestedEnvelope}, wantErr: true},
		{name: "untagged", token: Token{Index: 2, Data: []byte{1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.token.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedShares)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDedupe(t *testing.T) {
	a := Token{Index: 1, Data: []byte{1, 2}, Kind: KindRawSecret}
	b := Token{Index: 2, Data: []byte{3, 4}, Kind: KindRawSecret}
	forged := Token{Index: 1, Data: []byte{9, 9}, Kind: KindRawSecret}

	got := Dedupe([]Token{a, b, a.Clone(), forged, b})
	assert.Equal(t, []Token{a, b, forged}, got)
}

func TestTag(t *testing.T) {
	tokens := Tag([]Token{{Index: 1}, {Index: 2}}, KindNestedEnvelope)
	for _, tok := range tokens {
		assert.Equal(t, KindNestedEnvelope, tok.Kind)
	}
}

func TestToken_String(t *testing.T) {
	tok := Token{Index: 3, Data: []byte("abc"), Kind: KindRawSecret}
	assert.Contains(t, tok.String(), "Index: 3")
	assert.Contains(t, tok.String(), "RawSecret")
}
