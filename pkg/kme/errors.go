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

package kme

import "errors"

var (
	// ErrNoDestinations is returned by Spread when called with an empty
	// destination list.
	ErrNoDestinations = errors.New("kme: spread requires at least one destination")

	// ErrInvalidThreshold is returned by Spread when the threshold policy
	// yields a value outside 1..N for N destinations.
	ErrInvalidThreshold = errors.New("kme: threshold policy produced an invalid threshold")

	// ErrMalformedEnvelope is returned by Receive for bytes that do not
	// decode to a valid envelope. Nothing is stored.
	ErrMalformedEnvelope = errors.New("kme: malformed envelope")

	// ErrInvalidSecret is returned by SetSecret for an empty secret.
	ErrInvalidSecret = errors.New("kme: secret cannot be empty")

	// ErrDuplicatePeer is returned by Spread when two destinations share an ID.
	ErrDuplicatePeer = errors.New("kme: duplicate destination")

	// ErrDeliveryFailed wraps each failed delivery in the joined error
	// returned by Spread.
	ErrDeliveryFailed = errors.New("kme: delivery failed")

	errInsufficient = errors.New("insufficient shares")
)
