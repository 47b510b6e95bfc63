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
	"crypto/rand"
	"fmt"
	"io"
)

// GF256 implements Shamir's Secret Sharing Scheme using finite field
// arithmetic in GF(256). Each payload byte is the constant term of its own
// random polynomial of degree threshold-1.
type GF256 struct {
	rand io.Reader
}

// NewGF256 creates a GF(256) scheme backed by crypto/rand.
func NewGF256() *GF256 {
	return &GF256{rand: rand.Reader}
}

// Name returns the scheme identifier.
func (g *GF256) Name() string {
	return SchemeGF256
}

// Split divides payload into total shares, requiring threshold to reconstruct.
func (g *GF256) Split(payload []byte, total, threshold int) ([]Token, error) {
	if err := ValidateConfig(total, threshold); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	tokens := make([]Token, total)
	for i := range tokens {
		tokens[i].Index = byte(i + 1)
		tokens[i].Data = make([]byte, len(payload))
	}

	coeffs := make([]byte, threshold)
	for byteIdx, b := range payload {
		// p(x) = a0 + a1*x + ... + a(t-1)*x^(t-1), a0 = payload byte
		coeffs[0] = b
		if threshold > 1 {
			if _, err := io.ReadFull(g.rand, coeffs[1:]); err != nil {
				return nil, fmt.Errorf("failed to generate random coefficients: %w", err)
			}
		}
		for i := range tokens {
			tokens[i].Data[byteIdx] = evaluatePolynomial(coeffs, tokens[i].Index)
		}
	}

	return tokens, nil
}

// Combine reconstructs the payload by Lagrange interpolation at x=0 over
// every supplied share.
func (g *GF256) Combine(tokens []Token) ([]byte, error) {
	if err := checkCombinable(tokens); err != nil {
		return nil, err
	}

	payload := make([]byte, len(tokens[0].Data))
	for byteIdx := range payload {
		payload[byteIdx] = lagrangeInterpolate(tokens, byteIdx)
	}
	return payload, nil
}

// evaluatePolynomial evaluates a polynomial at point x in GF(256).
// Uses Horner's method: p(x) = a0 + x(a1 + x(a2 + ... + x*an))
func evaluatePolynomial(coeffs []byte, x byte) byte {
	if len(coeffs) == 0 {
		return 0
	}

	result := coeffs[len(coeffs)-1]
	for i := len(coeffs) - 2; i >= 0; i-- {
		result = gfAdd(gfMul(result, x), coeffs[i])
	}
	return result
}

// lagrangeInterpolate evaluates the interpolating polynomial at x=0 for a
// single byte position. Indices must be distinct and non-zero.
func lagrangeInterpolate(tokens []Token, byteIdx int) byte {
	var result byte

	for i := range tokens {
		xi := tokens[i].Index
		yi := tokens[i].Data[byteIdx]

		// l_i(0) = prod(xj) / prod(xi - xj), j != i
		var numerator byte = 1
		var denominator byte = 1
		for j := range tokens {
			if i == j {
				continue
			}
			xj := tokens[j].Index
			numerator = gfMul(numerator, xj)
			denominator = gfMul(denominator, gfSub(xi, xj))
		}

		basis := gfMul(numerator, gfInverse(denominator))
		result = gfAdd(result, gfMul(yi, basis))
	}

	return result
}

// GF(256) arithmetic using AES's finite field representation.
// The field is defined by the irreducible polynomial x^8 + x^4 + x^3 + x + 1.

func gfAdd(a, b byte) byte {
	return a ^ b
}

func gfSub(a, b byte) byte {
	return a ^ b
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExpTable[(int(gfLogTable[a])+int(gfLogTable[b]))%255]
}

func gfInverse(a byte) byte {
	if a == 0 {
		panic("division by zero in GF(256)")
	}
	return gfExpTable[255-int(gfLogTable[a])]
}

var (
	gfLogTable [256]byte
	gfExpTable [256]byte
)

func init() {
	// Generator 0x03, reduction polynomial 0x11B
	var x byte = 1
	for i := 0; i < 255; i++ {
		gfExpTable[i] = x
		gfLogTable[x] = byte(i)
		x = gfMultiply(x, 0x03)
	}
	gfExpTable[255] = gfExpTable[0]
}

// gfMultiply performs multiplication in GF(256) using the peasant algorithm.
// This is used only during table initialization.
func gfMultiply(a, b byte) byte {
	var p byte
	for i := 0; i < 8; i++ {
		if b&1 != 0 {
			p ^= a
		}
		highBit := a & 0x80
		a <<= 1
		if highBit != 0 {
			a ^= 0x1B
		}
		b >>= 1
	}
	return p
}
