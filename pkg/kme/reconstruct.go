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
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jeremyhahn/go-kmespread/pkg/envelope"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
	"github.com/jeremyhahn/go-kmespread/pkg/metrics"
	"github.com/jeremyhahn/go-kmespread/pkg/share"
)

// maxRounds bounds the peeling depth. Each round strictly shrinks the
// payloads in play, so honest trees stay far below it.
const maxRounds = 1024

// TryReconstruct returns the held secret, or else tries to recover a secret
// from the received envelopes. It never fails: malformed or insufficient
// groups are skipped and the result is simply false when nothing resolves.
//
// Envelopes are peeled one hop per round. Each round groups the working set
// by generator and split, combines every group that meets its threshold,
// returns the first RawSecret payload and carries decoded NestedEnvelope
// payloads into the next round. The inbox is not modified.
func (k *KME) TryReconstruct() ([]byte, bool) {
	start := time.Now()
	secret, rounds := k.reconstruct()
	metrics.RecordReconstruction(secret != nil, rounds)
	metrics.RecordOperation(metrics.OpReconstruct, k.scheme.Name(), metrics.StatusSuccess, time.Since(start).Seconds())
	return secret, secret != nil
}

func (k *KME) reconstruct() ([]byte, int) {
	k.mu.Lock()
	if k.secret != nil {
		secret := append([]byte(nil), k.secret...)
		k.mu.Unlock()
		return secret, 0
	}
	k.mu.Unlock()

	working, err := k.inbox.Snapshot()
	if err != nil {
		k.logger.Error("failed to read inbox", logging.Error(err))
		return nil, 0
	}

	rounds := 0
	for len(working) > 0 && rounds < maxRounds {
		rounds++
		var next []*envelope.Envelope

		groups := envelope.GroupByGenerator(working)
		for _, gen := range envelope.Generators(groups) {
			bySplit := envelope.GroupBySplit(groups[gen])
			splitIDs := make([]uint64, 0, len(bySplit))
			for id := range bySplit {
				splitIDs = append(splitIDs, id)
			}
			slices.Sort(splitIDs)

			for _, splitID := range splitIDs {
				log := k.logger.With(
					logging.Int("round", rounds),
					logging.Int64("generator", gen),
					logging.Uint64("split", splitID))

				payload, kind, err := k.combineGroup(bySplit[splitID])
				if err != nil {
					reason := metrics.ReasonCombine
					if errors.Is(err, errInsufficient) {
						reason = metrics.ReasonInsufficient
						log.Debug("group below threshold", logging.Int("envelopes", len(bySplit[splitID])))
					} else {
						log.Warn("group failed to combine", logging.Error(err))
					}
					metrics.RecordGroupSkipped(reason)
					continue
				}

				if kind == share.KindRawSecret {
					log.Info("secret reconstructed")
					return payload, rounds
				}

				nested, err := envelope.Unmarshal(payload)
				if err != nil {
					log.Warn("combined payload is not an envelope", logging.Error(err))
					metrics.RecordGroupSkipped(metrics.ReasonDecode)
					continue
				}
				log.Debug("peeled nested envelope", logging.Int64("inner_generator", nested.Generator))
				next = append(next, nested)
			}
		}
		working = next
	}
	return nil, rounds
}

// combineGroup reconstructs the payload shared by one split's envelopes.
// Byte-identical duplicates count once. If siblings disagree on the
// threshold the largest wins; if they disagree on the kind the group is
// rejected.
func (k *KME) combineGroup(envs []*envelope.Envelope) ([]byte, share.Kind, error) {
	threshold := 0
	kind := envs[0].Token.Kind
	tokens := make([]share.Token, 0, len(envs))
	for _, e := range envs {
		if e.Token.Kind != kind {
			return nil, 0, fmt.Errorf("%w: siblings disagree on payload kind", share.ErrMalformedShares)
		}
		threshold = max(threshold, int(e.Threshold))
		tokens = append(tokens, e.Token)
	}

	tokens = share.Dedupe(tokens)
	if len(tokens) < threshold {
		return nil, 0, errInsufficient
	}
	if threshold == 1 {
		return append([]byte(nil), tokens[0].Data...), kind, nil
	}

	payload, err := k.scheme.Combine(tokens)
	if err != nil {
		return nil, 0, err
	}
	return payload, kind, nil
}
