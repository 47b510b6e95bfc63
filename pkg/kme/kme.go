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
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/jeremyhahn/go-kmespread/pkg/correlation"
	"github.com/jeremyhahn/go-kmespread/pkg/envelope"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
	"github.com/jeremyhahn/go-kmespread/pkg/metrics"
	"github.com/jeremyhahn/go-kmespread/pkg/share"
)

// Peer is a destination of Spread. *KME is a Peer; so is a remote node
// reached over HTTP.
type Peer interface {
	ID() int64
	Receive(ctx context.Context, data []byte) error
}

// KME is a Key Management Entity. It holds at most one secret and a
// collection of received envelopes, spreads them to destination peers and
// reconstructs whatever its envelopes allow.
//
// A KME is safe for concurrent use. Receive only appends to the inbox and
// TryReconstruct works from a snapshot, so both may run during a Spread.
type KME struct {
	id     int64
	scheme share.Scheme
	policy ThresholdPolicy
	inbox  Inbox
	logger logging.Logger

	mu     sync.Mutex
	secret []byte

	// splits numbers this KME's split operations so siblings of different
	// splits never meet in one reconstruction group.
	splits *atomic.Uint64
}

// Option configures a KME.
type Option func(*KME)

// WithScheme sets the sharing engine. Every KME of a network must use the
// same scheme. Defaults to share.DefaultScheme.
func WithScheme(s share.Scheme) Option {
	return func(k *KME) {
		if s != nil {
			k.scheme = s
		}
	}
}

// WithThresholdPolicy sets the threshold policy. Defaults to Majority.
func WithThresholdPolicy(p ThresholdPolicy) Option {
	return func(k *KME) {
		if p != nil {
			k.policy = p
		}
	}
}

// WithInbox sets the envelope store. Defaults to a MemoryInbox.
func WithInbox(in Inbox) Option {
	return func(k *KME) {
		if in != nil {
			k.inbox = in
		}
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l logging.Logger) Option {
	return func(k *KME) {
		if l != nil {
			k.logger = l
		}
	}
}

// New creates a KME with the given identity and no data. When the inbox
// implements SecretKeeper, a previously persisted secret is restored.
func New(id int64, opts ...Option) (*KME, error) {
	k := &KME{
		id:     id,
		scheme: share.NewGF256(),
		policy: Majority,
		inbox:  NewMemoryInbox(),
		logger: logging.Discard(),
		splits: atomic.NewUint64(randomSeed()),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With(logging.Int64("kme", id))

	if keeper, ok := k.inbox.(SecretKeeper); ok {
		secret, err := keeper.LoadSecret()
		if err != nil {
			return nil, fmt.Errorf("kme %d: failed to load secret: %w", id, err)
		}
		k.secret = secret
	}
	k.updateInboxGauge()
	return k, nil
}

// randomSeed starts the split sequence at a random point so a restarted KME
// does not reuse split numbers that are still in flight.
func randomSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:]) >> 1
}

// ID returns the KME identity.
func (k *KME) ID() int64 {
	return k.id
}

// Scheme returns the name of the sharing engine.
func (k *KME) Scheme() string {
	return k.scheme.Name()
}

// SetSecret places secret in the held-secret slot, replacing any previous
// value. The KME keeps its own copy.
func (k *KME) SetSecret(secret []byte) error {
	if len(secret) == 0 {
		return ErrInvalidSecret
	}
	held := append([]byte(nil), secret...)

	k.mu.Lock()
	defer k.mu.Unlock()
	if keeper, ok := k.inbox.(SecretKeeper); ok {
		if err := keeper.StoreSecret(held); err != nil {
			return fmt.Errorf("kme %d: failed to persist secret: %w", k.id, err)
		}
	}
	k.secret = held
	k.logger.Info("secret assigned", logging.Int("bytes", len(held)))
	return nil
}

// HasSecret reports whether the held-secret slot is occupied.
func (k *KME) HasSecret() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.secret != nil
}

// Receive decodes a wire envelope and appends it to the inbox.
func (k *KME) Receive(ctx context.Context, data []byte) error {
	start := time.Now()
	e, err := envelope.Unmarshal(data)
	if err != nil {
		metrics.RecordError(metrics.OpReceive, "malformed")
		k.logger.Warn("rejected envelope",
			logging.String("correlation_id", correlation.GetCorrelationID(ctx)),
			logging.Error(err))
		return fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if err := k.inbox.Append(e); err != nil {
		metrics.RecordOperation(metrics.OpReceive, k.scheme.Name(), metrics.StatusError, time.Since(start).Seconds())
		return fmt.Errorf("kme %d: failed to store envelope: %w", k.id, err)
	}

	metrics.RecordEnvelopeReceived(e.Token.Kind.String())
	metrics.RecordOperation(metrics.OpReceive, k.scheme.Name(), metrics.StatusSuccess, time.Since(start).Seconds())
	k.updateInboxGauge()
	k.logger.Debug("envelope received",
		logging.String("correlation_id", correlation.GetCorrelationID(ctx)),
		logging.Int64("generator", e.Generator),
		logging.Uint64("split", e.Split),
		logging.Int("index", int(e.Token.Index)),
		logging.String("kind", e.Token.Kind.String()))
	return nil
}

// batch is one set of envelopes to deliver, envelope i to destination i.
type batch struct {
	kind share.Kind
	wire [][]byte
}

// Spread splits the held secret, if any, and every received envelope among
// destinations and delivers one share of each to every destination, in
// destination order.
//
// With N destinations the threshold is policy(N). A single destination
// receives held envelopes unchanged. Configuration violations, a cancelled
// ctx and storage failures abort before anything is consumed. Otherwise the
// held secret and the inbox are consumed and every delivery is attempted,
// even if ctx is cancelled midway, since undelivered shares would be lost.
// Delivery failures are returned joined.
func (k *KME) Spread(ctx context.Context, destinations []Peer) error {
	start := time.Now()
	ctx = correlation.Ensure(ctx)
	log := k.logger.With(logging.String("correlation_id", correlation.GetCorrelationID(ctx)))

	err := k.spread(ctx, log, destinations)
	metrics.RecordSpread(err)
	metrics.RecordOperation(metrics.OpSpread, k.scheme.Name(), metrics.Status(err), time.Since(start).Seconds())
	k.updateInboxGauge()
	return err
}

func (k *KME) spread(ctx context.Context, log logging.Logger, destinations []Peer) error {
	n := len(destinations)
	t, err := k.threshold(destinations)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	batches, err := k.prepare(log, n, t)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		log.Debug("nothing to spread")
		return nil
	}

	log.Info("spreading",
		logging.Int("destinations", n),
		logging.Int("threshold", t),
		logging.Int("batches", len(batches)))

	// The batches are all that is left of the secret and the inbox.
	dctx := context.WithoutCancel(ctx)
	var errs []error
	for _, b := range batches {
		for i, dest := range destinations {
			if err := dest.Receive(dctx, b.wire[i]); err != nil {
				log.Error("delivery failed", logging.Int64("destination", dest.ID()), logging.Error(err))
				metrics.RecordError(metrics.OpDeliver, "delivery_failed")
				errs = append(errs, fmt.Errorf("%w: kme %d: %w", ErrDeliveryFailed, dest.ID(), err))
				continue
			}
			metrics.RecordEnvelopeSent(b.kind.String())
			log.Debug("envelope delivered",
				logging.Int64("destination", dest.ID()),
				logging.String("kind", b.kind.String()))
		}
	}
	return errors.Join(errs...)
}

// threshold validates the destination set and applies the policy.
func (k *KME) threshold(destinations []Peer) (int, error) {
	n := len(destinations)
	if n == 0 {
		return 0, ErrNoDestinations
	}
	if n > share.MaxShares {
		return 0, fmt.Errorf("%w: %d destinations exceeds %d", share.ErrInvalidConfig, n, share.MaxShares)
	}
	seen := make(map[int64]struct{}, n)
	for i, d := range destinations {
		if d == nil {
			return 0, fmt.Errorf("%w: destination %d is nil", share.ErrInvalidConfig, i)
		}
		if _, dup := seen[d.ID()]; dup {
			return 0, fmt.Errorf("%w: kme %d", ErrDuplicatePeer, d.ID())
		}
		seen[d.ID()] = struct{}{}
	}

	t := k.policy(n)
	if t < 1 || t > n {
		return 0, fmt.Errorf("%w: %d for %d destinations", ErrInvalidThreshold, t, n)
	}
	return t, nil
}

// prepare cuts every split of a spread. The held secret is only cleared, in
// storage first, once every split succeeded; any failure puts the drained
// envelopes back and leaves the secret in place.
func (k *KME) prepare(log logging.Logger, n, t int) ([]batch, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var batches []batch
	if k.secret != nil {
		b, err := k.split(k.secret, n, t, share.KindRawSecret)
		if err != nil {
			return nil, fmt.Errorf("kme %d: failed to split secret: %w", k.id, err)
		}
		batches = append(batches, b)
	}

	held, err := k.inbox.Drain()
	if err != nil {
		return nil, fmt.Errorf("kme %d: failed to drain inbox: %w", k.id, err)
	}
	for _, e := range held {
		var b batch
		if n == 1 {
			b, err = forward(e)
		} else {
			b, err = k.resplit(e, n, t)
		}
		if err != nil {
			k.restore(log, held)
			return nil, fmt.Errorf("kme %d: failed to split envelope %s: %w", k.id, e, err)
		}
		batches = append(batches, b)
	}

	if k.secret != nil {
		if keeper, ok := k.inbox.(SecretKeeper); ok {
			if err := keeper.ClearSecret(); err != nil {
				k.restore(log, held)
				return nil, fmt.Errorf("kme %d: failed to clear persisted secret: %w", k.id, err)
			}
		}
		k.secret = nil
		log.Info("secret dispatched; slot cleared")
	}
	return batches, nil
}

func (k *KME) restore(log logging.Logger, envs []*envelope.Envelope) {
	for _, e := range envs {
		if err := k.inbox.Append(e); err != nil {
			log.Error("failed to restore envelope", logging.String("envelope", e.String()), logging.Error(err))
		}
	}
}

// split cuts payload into n envelopes stamped with this KME's identity, the
// threshold t and a fresh split number. Threshold 1 replicates the payload.
func (k *KME) split(payload []byte, n, t int, kind share.Kind) (batch, error) {
	var (
		tokens []share.Token
		err    error
	)
	if t == 1 {
		tokens, err = share.Replicate(payload, n)
	} else {
		tokens, err = k.scheme.Split(payload, n, t)
	}
	if err != nil {
		return batch{}, err
	}
	if len(tokens) != n {
		return batch{}, fmt.Errorf("%w: scheme %s returned %d shares, want %d",
			share.ErrMalformedShares, k.scheme.Name(), len(tokens), n)
	}

	id := k.splits.Inc()
	b := batch{kind: kind, wire: make([][]byte, n)}
	for i, tok := range share.Tag(tokens, kind) {
		e := envelope.Wrap(k.id, uint8(t), tok)
		e.Split = id
		if b.wire[i], err = envelope.Marshal(e); err != nil {
			return batch{}, err
		}
	}
	return b, nil
}

// resplit encodes a held envelope and splits the encoding as a nested payload.
func (k *KME) resplit(e *envelope.Envelope, n, t int) (batch, error) {
	payload, err := envelope.Marshal(e)
	if err != nil {
		return batch{}, err
	}
	return k.split(payload, n, t, share.KindNestedEnvelope)
}

// forward re-encodes e unchanged for a single destination.
func forward(e *envelope.Envelope) (batch, error) {
	data, err := envelope.Marshal(e)
	if err != nil {
		return batch{}, err
	}
	return batch{kind: e.Token.Kind, wire: [][]byte{data}}, nil
}

// GeneratorCount is the number of held envelopes from one generator.
type GeneratorCount struct {
	Generator int64 `json:"generator"`
	Envelopes int   `json:"envelopes"`
}

// Status summarizes what a KME holds.
type Status struct {
	ID         int64            `json:"id"`
	Scheme     string           `json:"scheme"`
	HasSecret  bool             `json:"has_secret"`
	Envelopes  int              `json:"envelopes"`
	Generators []GeneratorCount `json:"generators"`
}

// Status reports the KME identity, held-secret presence and inbox contents.
func (k *KME) Status() (Status, error) {
	envs, err := k.inbox.Snapshot()
	if err != nil {
		return Status{}, fmt.Errorf("kme %d: failed to read inbox: %w", k.id, err)
	}
	groups := envelope.GroupByGenerator(envs)
	counts := make([]GeneratorCount, 0, len(groups))
	for _, gen := range envelope.Generators(groups) {
		counts = append(counts, GeneratorCount{Generator: gen, Envelopes: len(groups[gen])})
	}
	return Status{
		ID:         k.id,
		Scheme:     k.scheme.Name(),
		HasSecret:  k.HasSecret(),
		Envelopes:  len(envs),
		Generators: counts,
	}, nil
}

func (k *KME) updateInboxGauge() {
	if n, err := k.inbox.Len(); err == nil {
		metrics.SetInboxSize(k.id, n)
	}
}
