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

import (
	"fmt"
	"strconv"
	"strings"
)

// ThresholdPolicy chooses the reconstruction threshold for a split into
// total shares. Spread rejects results outside 1..total.
type ThresholdPolicy func(total int) int

// Majority requires floor(total/2)+1 shares. One destination yields 1.
func Majority(total int) int {
	return total/2 + 1
}

// Unanimous requires every share.
func Unanimous(total int) int {
	return total
}

// Fixed requires t shares, or every share when fewer than t are cut.
func Fixed(t int) ThresholdPolicy {
	return func(total int) int {
		return min(t, total)
	}
}

// ParsePolicy parses "majority", "unanimous", "all" or "fixed:<t>".
// An empty string selects Majority.
func ParsePolicy(s string) (ThresholdPolicy, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch name {
	case "", "majority":
		if hasArg {
			break
		}
		return Majority, nil
	case "unanimous", "all":
		if hasArg {
			break
		}
		return Unanimous, nil
	case "fixed":
		t, err := strconv.Atoi(arg)
		if err != nil || t < 1 {
			return nil, fmt.Errorf("invalid fixed threshold %q: must be a positive integer", arg)
		}
		return Fixed(t), nil
	}
	return nil, fmt.Errorf("invalid threshold policy %q (must be majority, unanimous, or fixed:<t>)", s)
}
