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

// Package share defines share tokens and the threshold secret sharing
// schemes that produce and consume them.
//
// A split turns a payload into N tokens such that any T of them recombine
// into the payload while fewer than T reveal nothing about it. Three
// interchangeable schemes are provided:
//
//   - gf256: Shamir's scheme over GF(2^8), one random polynomial per byte.
//   - sssa:  github.com/SSSaaS/sssa-golang over a 256-bit prime field.
//   - vault: github.com/hashicorp/vault/shamir (threshold >= 2).
//
// Tokens also carry a Kind tag chosen by the caller. The tag never affects
// the algebra; it tells the reconstructing side whether the recovered
// payload is the original secret or another serialized envelope.
//
// # Usage Example
//
//	scheme, err := share.New(share.SchemeGF256)
//	if err != nil {
//	    return err
//	}
//	tokens, err := scheme.Split([]byte("secret"), 5, 3)
//	if err != nil {
//	    return err
//	}
//	share.Tag(tokens, share.KindRawSecret)
//	secret, err := scheme.Combine(tokens[1:4])
package share
