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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-kmespread/pkg/envelope"
	"github.com/jeremyhahn/go-kmespread/pkg/share"
	"github.com/jeremyhahn/go-kmespread/pkg/storage"
	"github.com/jeremyhahn/go-kmespread/pkg/storage/file"
)

const superSecret = "This string is so secret"

func newKME(t *testing.T, id int64, opts ...Option) *KME {
	t.Helper()
	k, err := New(id, opts...)
	require.NoError(t, err)
	return k
}

func mustMarshal(t *testing.T, e *envelope.Envelope) []byte {
	t.Helper()
	data, err := envelope.Marshal(e)
	require.NoError(t, err)
	return data
}

func peers(kmes ...*KME) []Peer {
	out := make([]Peer, len(kmes))
	for i, k := range kmes {
		out[i] = k
	}
	return out
}

func recovers(k *KME) bool {
	secret, ok := k.TryReconstruct()
	return ok && string(secret) == superSecret
}

// merged returns a throwaway KME using scheme s and holding the union of the
// inboxes of kmes, modelling colluding KMEs pooling their data.
func merged(t *testing.T, s share.Scheme, kmes ...*KME) *KME {
	t.Helper()
	pool := newKME(t, -1, WithScheme(s))
	for _, k := range kmes {
		envs, err := k.inbox.Snapshot()
		require.NoError(t, err)
		for _, e := range envs {
			require.NoError(t, pool.inbox.Append(e))
		}
	}
	return pool
}

// recordingPeer captures deliveries and optionally fails them.
type recordingPeer struct {
	id  int64
	err error

	mu  sync.Mutex
	got [][]byte
}

func (p *recordingPeer) ID() int64 { return p.id }

func (p *recordingPeer) Receive(_ context.Context, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, data)
	return nil
}

func (p *recordingPeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func TestScenario_EightKMEs(t *testing.T) {
	for _, scheme := range share.Names() {
		t.Run(scheme, func(t *testing.T) {
			ctx := context.Background()
			s, err := share.New(scheme)
			require.NoError(t, err)
			mk := func(id int64) *KME { return newKME(t, id, WithScheme(s)) }

			kme1 := mk(1)
			require.NoError(t, kme1.SetSecret([]byte(superSecret)))
			assert.True(t, recovers(kme1))

			kme2, kme3, kme4 := mk(2), mk(3), mk(4)
			require.NoError(t, kme1.Spread(ctx, peers(kme2, kme3, kme4)))
			assert.False(t, kme1.HasSecret())
			assert.False(t, recovers(kme1))
			assert.False(t, recovers(kme4), "one of three first-level shares must not reveal the secret")

			assert.True(t, recovers(merged(t, s, kme2, kme3)))
			assert.True(t, recovers(merged(t, s, kme2, kme4)))
			assert.True(t, recovers(merged(t, s, kme3, kme4)))

			kme5, kme6, kme7 := mk(5), mk(6), mk(7)
			require.NoError(t, kme2.Spread(ctx, peers(kme5, kme6)))
			require.NoError(t, kme3.Spread(ctx, peers(kme5, kme6, kme7)))
			require.NoError(t, kme4.Spread(ctx, peers(kme6, kme7)))
			assert.False(t, recovers(kme6), "second-level KME with one share per branch must fail")

			kme8 := mk(8)
			require.NoError(t, kme5.Spread(ctx, peers(kme8)))
			require.NoError(t, kme6.Spread(ctx, peers(kme8)))

			secret, ok := kme8.TryReconstruct()
			require.True(t, ok)
			assert.Equal(t, superSecret, string(secret))

			// TryReconstruct works on a snapshot.
			n, err := kme8.inbox.Len()
			require.NoError(t, err)
			assert.Equal(t, 5, n)
			assert.True(t, recovers(kme8))
		})
	}
}

func TestSpread_FinalKMEMissingBranchFails(t *testing.T) {
	ctx := context.Background()
	kme1 := newKME(t, 1)
	require.NoError(t, kme1.SetSecret([]byte(superSecret)))

	kme2, kme3, kme4 := newKME(t, 2), newKME(t, 3), newKME(t, 4)
	require.NoError(t, kme1.Spread(ctx, peers(kme2, kme3, kme4)))

	kme5, kme6 := newKME(t, 5), newKME(t, 6)
	require.NoError(t, kme2.Spread(ctx, peers(kme5, kme6)))
	require.NoError(t, kme3.Spread(ctx, peers(kme5, kme6)))

	final := newKME(t, 8)
	require.NoError(t, kme5.Spread(ctx, peers(final)))
	assert.False(t, recovers(final), "one share of each second-level split is not enough")

	require.NoError(t, kme6.Spread(ctx, peers(final)))
	assert.True(t, recovers(final))
}

func TestSpread_ConfigurationViolations(t *testing.T) {
	ctx := context.Background()
	a, b, c := newKME(t, 2), newKME(t, 3), newKME(t, 4)

	tests := []struct {
		name    string
		policy  ThresholdPolicy
		dests   []Peer
		wantErr error
	}{
		{name: "no destinations", policy: Majority, dests: nil, wantErr: ErrNoDestinations},
		{name: "threshold zero", policy: Fixed(0), dests: peers(a, b), wantErr: ErrInvalidThreshold},
		{name: "threshold above total", policy: func(n int) int { return n + 1 }, dests: peers(a, b, c), wantErr: ErrInvalidThreshold},
		{name: "duplicate destination", policy: Majority, dests: peers(a, a), wantErr: ErrDuplicatePeer},
		{name: "nil destination", policy: Majority, dests: []Peer{a, nil}, wantErr: share.ErrInvalidConfig},
		{name: "too many destinations", policy: Majority, dests: manyPeers(256), wantErr: share.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := newKME(t, 1, WithThresholdPolicy(tt.policy))
			require.NoError(t, origin.SetSecret([]byte(superSecret)))

			err := origin.Spread(ctx, tt.dests)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, origin.HasSecret(), "a rejected spread must not consume the secret")
		})
	}
}

func manyPeers(n int) []Peer {
	out := make([]Peer, n)
	for i := range out {
		out[i] = &recordingPeer{id: int64(i + 100)}
	}
	return out
}

func TestSpread_SingleDestinationIsLossless(t *testing.T) {
	ctx := context.Background()
	held := envelope.Wrap(42, 3, share.Token{
		Index: 7,
		Data:  []byte{0x00, 0x01, 0xfe, 0xff},
		Kind:  share.KindNestedEnvelope,
	})
	held.Split = 9001
	wire, err := envelope.Marshal(held)
	require.NoError(t, err)

	relay := newKME(t, 5)
	require.NoError(t, relay.Receive(ctx, wire))

	dest := &recordingPeer{id: 8}
	require.NoError(t, relay.Spread(ctx, []Peer{dest}))

	require.Equal(t, 1, dest.count())
	assert.Equal(t, wire, dest.got[0])

	n, err := relay.inbox.Len()
	require.NoError(t, err)
	assert.Zero(t, n, "spread drains the inbox")
}

func TestSpread_SingleDestinationSecret(t *testing.T) {
	ctx := context.Background()
	origin, dest := newKME(t, 1), newKME(t, 2)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	require.NoError(t, origin.Spread(ctx, peers(dest)))

	assert.True(t, recovers(dest))
	envs, err := dest.inbox.Snapshot()
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, uint8(1), envs[0].Threshold)
	assert.Equal(t, share.KindRawSecret, envs[0].Token.Kind)
}

func TestSpread_SecretDispatchedOnce(t *testing.T) {
	ctx := context.Background()
	origin := newKME(t, 1)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))

	a, b := &recordingPeer{id: 2}, &recordingPeer{id: 3}
	require.NoError(t, origin.Spread(ctx, []Peer{a, b}))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	require.NoError(t, origin.Spread(ctx, []Peer{a, b}))
	assert.Equal(t, 1, a.count(), "second spread must not redistribute the secret")
	assert.Equal(t, 1, b.count())

	// Accumulated envelopes are still redistributed.
	require.NoError(t, origin.Receive(ctx, a.got[0]))
	require.NoError(t, origin.Spread(ctx, []Peer{a, b}))
	assert.Equal(t, 2, a.count())

	inner, err := envelope.Unmarshal(a.got[1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.Generator)
	assert.Equal(t, share.KindNestedEnvelope, inner.Token.Kind)
}

func TestSpread_DeliveryFailuresAreJoined(t *testing.T) {
	ctx := context.Background()
	origin := newKME(t, 1)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))

	unreachable := errors.New("connection refused")
	good1, bad, good2 := &recordingPeer{id: 2}, &recordingPeer{id: 3, err: unreachable}, &recordingPeer{id: 4}

	err := origin.Spread(ctx, []Peer{good1, bad, good2})
	require.Error(t, err)
	assert.ErrorIs(t, err, unreachable)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "kme 3")
	assert.Equal(t, 1, good1.count())
	assert.Equal(t, 1, good2.count())
	assert.False(t, origin.HasSecret())
}

func TestSpread_CancelledContextConsumesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	origin := newKME(t, 1)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	dest := &recordingPeer{id: 2}

	err := origin.Spread(ctx, []Peer{dest, &recordingPeer{id: 3}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, dest.count())
	assert.True(t, origin.HasSecret())
}

// cancellingPeer cancels the spread's context when it receives.
type cancellingPeer struct {
	recordingPeer
	cancel context.CancelFunc
}

func (p *cancellingPeer) Receive(ctx context.Context, data []byte) error {
	p.cancel()
	return p.recordingPeer.Receive(ctx, data)
}

func TestSpread_CancelMidwayStillDeliversEveryShare(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	origin := newKME(t, 1)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	require.NoError(t, origin.Receive(ctx, mustMarshal(t, envelope.Wrap(9, 1, share.Token{
		Index: 1, Data: []byte("held"), Kind: share.KindRawSecret,
	}))))

	first := &cancellingPeer{recordingPeer: recordingPeer{id: 2}, cancel: cancel}
	rest := []*recordingPeer{{id: 3}, {id: 4}}
	require.NoError(t, origin.Spread(ctx, []Peer{first, rest[0], rest[1]}))

	assert.Equal(t, 2, first.count())
	for _, p := range rest {
		assert.Equal(t, 2, p.count(), "kme %d", p.id)
	}
	assert.False(t, origin.HasSecret())
}

func TestSpread_NothingHeld(t *testing.T) {
	dest := &recordingPeer{id: 2}
	require.NoError(t, newKME(t, 1).Spread(context.Background(), []Peer{dest}))
	assert.Zero(t, dest.count())
}

func TestReceive_MalformedIsRejected(t *testing.T) {
	k := newKME(t, 1)
	err := k.Receive(context.Background(), []byte("This string is so secret"))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	assert.ErrorIs(t, err, envelope.ErrMalformed)

	n, err := k.inbox.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetSecret(t *testing.T) {
	k := newKME(t, 1)
	assert.ErrorIs(t, k.SetSecret(nil), ErrInvalidSecret)

	secret := []byte("abc")
	require.NoError(t, k.SetSecret(secret))
	secret[0] = 'X'

	got, ok := k.TryReconstruct()
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}

func TestTryReconstruct_EmptyInbox(t *testing.T) {
	secret, ok := newKME(t, 1).TryReconstruct()
	assert.False(t, ok)
	assert.Nil(t, secret)
}

func TestTryReconstruct_DuplicateDeliveryDoesNotMeetThreshold(t *testing.T) {
	ctx := context.Background()
	origin := newKME(t, 1)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	a, b, c := &recordingPeer{id: 2}, &recordingPeer{id: 3}, &recordingPeer{id: 4}
	require.NoError(t, origin.Spread(ctx, []Peer{a, b, c}))

	k := newKME(t, 9)
	require.NoError(t, k.Receive(ctx, a.got[0]))
	require.NoError(t, k.Receive(ctx, a.got[0]))
	assert.False(t, recovers(k), "the same share twice is still one share")

	require.NoError(t, k.Receive(ctx, c.got[0]))
	assert.True(t, recovers(k))
}

func TestTryReconstruct_ForgedGroupsAreSkipped(t *testing.T) {
	ctx := context.Background()
	origin := newKME(t, 1)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	a, b := &recordingPeer{id: 2}, &recordingPeer{id: 3}
	require.NoError(t, origin.Spread(ctx, []Peer{a, b, &recordingPeer{id: 4}}))

	k := newKME(t, 9)
	forge := func(gen int64, idx uint8, kind share.Kind, data []byte) {
		e := envelope.Wrap(gen, 2, share.Token{Index: idx, Data: data, Kind: kind})
		wire, err := envelope.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, k.Receive(ctx, wire))
	}
	// Combines to bytes that are not an envelope.
	forge(50, 1, share.KindNestedEnvelope, []byte{1, 2, 3})
	forge(50, 2, share.KindNestedEnvelope, []byte{4, 5, 6})
	// Uneven share lengths fail to combine.
	forge(60, 1, share.KindNestedEnvelope, []byte{1})
	forge(60, 2, share.KindNestedEnvelope, []byte{1, 2})
	// Siblings disagreeing on kind.
	forge(70, 1, share.KindRawSecret, []byte{1})
	forge(70, 2, share.KindNestedEnvelope, []byte{2})

	assert.False(t, recovers(k))

	require.NoError(t, k.Receive(ctx, a.got[0]))
	require.NoError(t, k.Receive(ctx, b.got[0]))
	assert.True(t, recovers(k))
}

func TestTryReconstruct_IndependentSplitsAreNotMixed(t *testing.T) {
	ctx := context.Background()
	origin := newKME(t, 1)
	a, b := &recordingPeer{id: 2}, &recordingPeer{id: 3}

	secrets := []string{"first secret", "second secret"}
	for _, s := range secrets {
		require.NoError(t, origin.SetSecret([]byte(s)))
		require.NoError(t, origin.Spread(ctx, []Peer{a, b, &recordingPeer{id: 4}}))
	}

	// One share of each split: same generator, never combinable.
	partial := newKME(t, 9)
	require.NoError(t, partial.Receive(ctx, a.got[0]))
	require.NoError(t, partial.Receive(ctx, b.got[1]))
	_, ok := partial.TryReconstruct()
	assert.False(t, ok)

	full := newKME(t, 10)
	for _, p := range []*recordingPeer{a, b} {
		for _, wire := range p.got {
			require.NoError(t, full.Receive(ctx, wire))
		}
	}
	got, ok := full.TryReconstruct()
	require.True(t, ok)
	assert.Contains(t, secrets, string(got))
}

func TestTryReconstruct_InconsistentThresholdUsesLargest(t *testing.T) {
	ctx := context.Background()
	tokens, err := share.NewGF256().Split([]byte(superSecret), 3, 2)
	require.NoError(t, err)
	share.Tag(tokens, share.KindRawSecret)

	k := newKME(t, 9)
	for i, tok := range tokens[:2] {
		e := envelope.Wrap(1, uint8(2+i), tok)
		wire, err := envelope.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, k.Receive(ctx, wire))
	}
	assert.False(t, recovers(k), "declared threshold 3 is not met by two tokens")
}

func TestPolicies(t *testing.T) {
	assert.Equal(t, 1, Majority(1))
	assert.Equal(t, 2, Majority(2))
	assert.Equal(t, 2, Majority(3))
	assert.Equal(t, 3, Majority(4))
	assert.Equal(t, 5, Unanimous(5))
	assert.Equal(t, 2, Fixed(2)(5))
	assert.Equal(t, 1, Fixed(2)(1))

	tests := []struct {
		input   string
		total   int
		want    int
		wantErr bool
	}{
		{input: "", total: 5, want: 3},
		{input: "majority", total: 4, want: 3},
		{input: "Unanimous", total: 4, want: 4},
		{input: "all", total: 2, want: 2},
		{input: "fixed:2", total: 7, want: 2},
		{input: "fixed:0", wantErr: true},
		{input: "fixed:x", wantErr: true},
		{input: "majority:3", wantErr: true},
		{input: "quorum", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePolicy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p(tt.total))
		})
	}
}

func TestSpread_UnanimousPolicy(t *testing.T) {
	ctx := context.Background()
	origin := newKME(t, 1, WithThresholdPolicy(Unanimous))
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	a, b, c := newKME(t, 2), newKME(t, 3), newKME(t, 4)
	require.NoError(t, origin.Spread(ctx, peers(a, b, c)))

	assert.False(t, recovers(merged(t, share.NewGF256(), a, b)))
	assert.True(t, recovers(merged(t, share.NewGF256(), a, b, c)))
}

func TestSpread_FixedThresholdOneReplicates(t *testing.T) {
	ctx := context.Background()
	origin := newKME(t, 1, WithThresholdPolicy(Fixed(1)), WithScheme(share.NewVault()))
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	a, b := newKME(t, 2), newKME(t, 3)
	require.NoError(t, origin.Spread(ctx, peers(a, b)))

	assert.True(t, recovers(a))
	assert.True(t, recovers(b))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	origin := newKME(t, 1)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))

	st, err := origin.Status()
	require.NoError(t, err)
	assert.Equal(t, Status{ID: 1, Scheme: share.SchemeGF256, HasSecret: true, Generators: []GeneratorCount{}}, st)

	a, b := newKME(t, 2), newKME(t, 3)
	require.NoError(t, origin.Spread(ctx, peers(a, b)))
	require.NoError(t, a.Spread(ctx, peers(b)))

	st, err = b.Status()
	require.NoError(t, err)
	assert.False(t, st.HasSecret)
	assert.Equal(t, 2, st.Envelopes)
	assert.Equal(t, []GeneratorCount{{Generator: 1, Envelopes: 2}}, st.Generators)
}

func TestStorageInbox_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	open := func(id int64) *KME {
		backend, err := file.New(dir)
		require.NoError(t, err)
		inbox, err := NewStorageInbox(backend)
		require.NoError(t, err)
		return newKME(t, id, WithInbox(inbox))
	}

	origin := newKME(t, 1)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	a, b := &recordingPeer{id: 2}, &recordingPeer{id: 3}
	require.NoError(t, origin.Spread(ctx, []Peer{a, b, &recordingPeer{id: 4}}))

	node := open(9)
	require.NoError(t, node.Receive(ctx, a.got[0]))
	assert.False(t, recovers(node))

	restarted := open(9)
	require.NoError(t, restarted.Receive(ctx, b.got[0]))
	assert.True(t, recovers(restarted))

	st, err := restarted.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Envelopes)
}

func TestStorageInbox_PersistsAndClearsSecret(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	inbox, err := NewStorageInbox(backend)
	require.NoError(t, err)

	origin := newKME(t, 1, WithInbox(inbox))
	require.NoError(t, origin.SetSecret([]byte(superSecret)))

	restarted := newKME(t, 1, WithInbox(inbox))
	assert.True(t, restarted.HasSecret())

	require.NoError(t, restarted.Spread(ctx, []Peer{&recordingPeer{id: 2}, &recordingPeer{id: 3}}))
	ok, err := backend.Exists(storage.SecretKey)
	require.NoError(t, err)
	assert.False(t, ok)

	again := newKME(t, 1, WithInbox(inbox))
	assert.False(t, again.HasSecret())
}

func TestStorageInbox_ResumesSequence(t *testing.T) {
	backend := storage.NewMemory()
	first, err := NewStorageInbox(backend)
	require.NoError(t, err)

	e := envelope.Wrap(1, 1, share.Token{Index: 1, Data: []byte("x"), Kind: share.KindRawSecret})
	require.NoError(t, first.Append(e))
	require.NoError(t, first.Append(e))
	require.NoError(t, backend.Put(storage.EnvelopePath(50), []byte("corrupt"), nil))

	second, err := NewStorageInbox(backend)
	require.NoError(t, err)
	require.NoError(t, second.Append(e))

	ok, err := backend.Exists(storage.EnvelopePath(51))
	require.NoError(t, err)
	assert.True(t, ok)

	envs, err := second.Snapshot()
	require.NoError(t, err)
	assert.Len(t, envs, 3, "undecodable entries are skipped")

	drained, err := second.Drain()
	require.NoError(t, err)
	assert.Len(t, drained, 3)
	n, err := second.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKME_ConcurrentReceiveAndReconstruct(t *testing.T) {
	ctx := context.Background()
	origin := newKME(t, 1)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))

	dests := make([]*recordingPeer, 9)
	ps := make([]Peer, len(dests))
	for i := range dests {
		dests[i] = &recordingPeer{id: int64(i + 2)}
		ps[i] = dests[i]
	}
	require.NoError(t, origin.Spread(ctx, ps))

	k := newKME(t, 99)
	var wg sync.WaitGroup
	for _, d := range dests {
		wg.Add(2)
		go func(wire []byte) {
			defer wg.Done()
			assert.NoError(t, k.Receive(ctx, wire))
		}(d.got[0])
		go func() {
			defer wg.Done()
			k.TryReconstruct()
		}()
	}
	wg.Wait()

	assert.True(t, recovers(k))
}

// faultyBackend fails Delete for the keys in failDelete.
type faultyBackend struct {
	storage.Backend

	mu         sync.Mutex
	failDelete map[string]bool
}

func (b *faultyBackend) Delete(key string) error {
	b.mu.Lock()
	fail := b.failDelete[key]
	b.mu.Unlock()
	if fail {
		return errors.New("disk unavailable")
	}
	return b.Backend.Delete(key)
}

func (b *faultyBackend) heal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDelete = nil
}

func TestSpread_UnclearablePersistedSecretAbortsSpread(t *testing.T) {
	ctx := context.Background()
	backend := &faultyBackend{
		Backend:    storage.NewMemory(),
		failDelete: map[string]bool{storage.SecretKey: true},
	}
	inbox, err := NewStorageInbox(backend)
	require.NoError(t, err)

	origin := newKME(t, 1, WithInbox(inbox))
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	require.NoError(t, origin.Receive(ctx, mustMarshal(t, envelope.Wrap(9, 1, share.Token{
		Index: 1, Data: []byte("held"), Kind: share.KindRawSecret,
	}))))

	a, b := &recordingPeer{id: 2}, &recordingPeer{id: 3}
	assert.Error(t, origin.Spread(ctx, []Peer{a, b}))
	assert.Zero(t, a.count())
	assert.Zero(t, b.count())
	assert.True(t, origin.HasSecret())
	n, err := inbox.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "drained envelopes are put back")

	backend.heal()
	require.NoError(t, origin.Spread(ctx, []Peer{a, b}))
	assert.Equal(t, 2, a.count())

	restarted := newKME(t, 1, WithInbox(inbox))
	assert.False(t, restarted.HasSecret(), "a dispatched secret is never reloaded")
}

func TestStorageInbox_FailedDrainKeepsEnvelopes(t *testing.T) {
	backend := &faultyBackend{
		Backend:    storage.NewMemory(),
		failDelete: map[string]bool{storage.EnvelopePath(2): true},
	}
	inbox, err := NewStorageInbox(backend)
	require.NoError(t, err)

	for i := byte(1); i <= 3; i++ {
		require.NoError(t, inbox.Append(envelope.Wrap(int64(i), 1, share.Token{
			Index: 1, Data: []byte{i}, Kind: share.KindRawSecret,
		})))
	}

	_, err = inbox.Drain()
	require.Error(t, err)
	envs, err := inbox.Snapshot()
	require.NoError(t, err)
	assert.Len(t, envs, 3)

	k := newKME(t, 1, WithInbox(inbox))
	dest := &recordingPeer{id: 2}
	assert.Error(t, k.Spread(context.Background(), []Peer{dest}))
	assert.Zero(t, dest.count())

	backend.heal()
	require.NoError(t, k.Spread(context.Background(), []Peer{dest}))
	assert.Equal(t, 3, dest.count())
}
