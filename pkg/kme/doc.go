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

// Package kme implements Key Management Entities that distribute a secret
// through a network by recursive threshold secret sharing.
//
// An origin KME holds a secret and spreads it to N destinations: the secret
// is split into N shares with threshold policy(N), each share is wrapped in
// an envelope stamped with the origin's identity, and envelope i is delivered
// to destination i. A destination that later spreads re-splits the encoding
// of every envelope it holds, stamping its own identity, so a share that
// travelled k hops is nested k layers deep. A KME with a single destination
// forwards its envelopes unchanged.
//
// Reconstruction peels one layer per round: envelopes are grouped by
// generator and split, every group that meets its threshold is combined, and
// the result is either the secret or an envelope for the next round.
//
// Example:
//
//	origin, _ := kme.New(1)
//	a, _ := kme.New(2)
//	b, _ := kme.New(3)
//	c, _ := kme.New(4)
//
//	_ = origin.SetSecret([]byte("secret"))
//	_ = origin.Spread(ctx, []kme.Peer{a, b, c}) // threshold 2 of 3
//
//	_ = a.Spread(ctx, []kme.Peer{c})
//	secret, ok := c.TryReconstruct() // ok: c holds shares 1 and 3
package kme
