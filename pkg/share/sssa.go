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
	"encoding/hex"
	"fmt"

	"github.com/SSSaaS/sssa-golang"
)

// SSSA adapts github.com/SSSaaS/sssa-golang to the Scheme interface.
// Payloads are hex encoded before splitting because the library operates on
// strings and trims trailing NUL bytes on reconstruction.
type SSSA struct{}

// NewSSSA creates an sssa-golang backed scheme.
func NewSSSA() *SSSA {
	return &SSSA{}
}

// Name returns the scheme identifier.
func (s *SSSA) Name() string {
	return SchemeSSSA
}

// Split divides payload into total shares using sssa-golang.
func (s *SSSA) Split(payload []byte, total, threshold int) ([]Token, error) {
	if err := ValidateConfig(total, threshold); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	shareStrings, err := sssa.Create(threshold, total, hex.EncodeToString(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}
	if len(shareStrings) != total {
		return nil, fmt.Errorf("sssa returned %d shares, expected %d", len(shareStrings), total)
	}

	tokens := make([]Token, total)
	for i, shareStr := range shareStrings {
		tokens[i] = Token{
			Index: byte(i + 1),
			Data:  []byte(shareStr),
		}
	}
	return tokens, nil
}

// Combine reconstructs the payload from sssa share strings.
func (s *SSSA) Combine(tokens []Token) (payload []byte, err error) {
	if err := checkCombinable(tokens); err != nil {
		return nil, err
	}

	shareStrings := make([]string, len(tokens))
	for i, t := range tokens {
		if !sssa.IsValidShare(string(t.Data)) {
			return nil, fmt.Errorf("%w: share %d is not a valid sssa share", ErrMalformedShares, t.Index)
		}
		shareStrings[i] = string(t.Data)
	}

	// Forged shares with colliding x coordinates make the library divide by
	// zero inside math/big.
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("%w: %v", ErrMalformedShares, r)
		}
	}()

	secretHex, err := sssa.Combine(shareStrings)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to combine shares: %v", ErrMalformedShares, err)
	}

	payload, err = hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse hex secret: %v", ErrMalformedShares, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: combined secret is empty", ErrMalformedShares)
	}
	return payload, nil
}
