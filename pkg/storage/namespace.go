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

package storage

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// EnvelopePrefix is the key prefix under which inbox envelopes live.
	EnvelopePrefix = "envelopes/"

	// SecretKey holds the secret currently assigned to the node.
	SecretKey = "secret/current"
)

// EnvelopePath returns the storage key for the inbox entry with the given
// sequence number. Sequence numbers are zero padded so that lexical key
// order matches arrival order.
func EnvelopePath(seq uint64) string {
	return fmt.Sprintf("%s%020d", EnvelopePrefix, seq)
}

// ParseEnvelopePath extracts the sequence number from an inbox key.
func ParseEnvelopePath(key string) (uint64, error) {
	if !strings.HasPrefix(key, EnvelopePrefix) {
		return 0, fmt.Errorf("%w: %q is not an envelope key", ErrInvalidKey, key)
	}
	seq, err := strconv.ParseUint(strings.TrimPrefix(key, EnvelopePrefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}
	return seq, nil
}
