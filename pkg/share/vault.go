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
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// Vault adapts github.com/hashicorp/vault/shamir to the Scheme interface.
// Each Vault share carries its own random x coordinate in its last byte, so
// Token.Index only records the position within the split. The library
// requires a threshold of at least 2.
type Vault struct{}

// NewVault creates a Vault Shamir backed scheme.
func NewVault() *Vault {
	return &Vault{}
}

// Name returns the scheme identifier.
func (v *Vault) Name() string {
	return SchemeVault
}

// Split divides payload into total shares using Vault's Shamir implementation.
func (v *Vault) Split(payload []byte, total, threshold int) ([]Token, error) {
	if err := ValidateConfig(total, threshold); err != nil {
		return nil, err
	}
	if threshold < 2 {
		return nil, fmt.Errorf("%w: vault scheme requires threshold >= 2, got %d", ErrInvalidConfig, threshold)
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	parts, err := shamir.Split(payload, total, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	tokens := make([]Token, len(parts))
	for i, part := range parts {
		tokens[i] = Token{
			Index: byte(i + 1),
			Data:  part,
		}
	}
	return tokens, nil
}

// Combine reconstructs the payload from Vault shares.
func (v *Vault) Combine(tokens []Token) ([]byte, error) {
	if err := checkCombinable(tokens); err != nil {
		return nil, err
	}
	if len(tokens) < 2 {
		return nil, fmt.Errorf("%w: vault scheme needs at least 2 shares, got %d", ErrMalformedShares, len(tokens))
	}

	parts := make([][]byte, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Data
	}

	payload, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedShares, err)
	}
	return payload, nil
}
