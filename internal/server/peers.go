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

package server

import (
	"crypto/tls"
	"slices"
	"sync"
	"time"

	"github.com/jeremyhahn/go-kmespread/internal/config"
	"github.com/jeremyhahn/go-kmespread/pkg/client"
	"github.com/jeremyhahn/go-kmespread/pkg/kme"
)

// peerSet holds the remote KMEs a node may spread to. It is replaced
// wholesale on reload.
type peerSet struct {
	mu    sync.RWMutex
	peers map[int64]*client.Peer
}

func newPeerSet(self int64, peers []config.PeerConfig, tlsConfig *tls.Config, timeout time.Duration) (*peerSet, error) {
	ps := &peerSet{}
	if err := ps.set(self, peers, tlsConfig, timeout); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *peerSet) set(self int64, peers []config.PeerConfig, tlsConfig *tls.Config, timeout time.Duration) error {
	next := make(map[int64]*client.Peer, len(peers))
	for _, pc := range peers {
		p, err := client.NewPeer(pc.ID, &client.Config{
			Address:   pc.URL,
			TLSConfig: tlsConfig,
			Timeout:   timeout,
			Sender:    self,
		})
		if err != nil {
			return err
		}
		next[pc.ID] = p
	}

	ps.mu.Lock()
	prev := ps.peers
	ps.peers = next
	ps.mu.Unlock()

	for _, p := range prev {
		_ = p.Close()
	}
	return nil
}

// Lookup resolves a spread destination.
func (ps *peerSet) Lookup(id int64) (kme.Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[id]
	if !ok {
		return nil, false
	}
	return p, true
}

// IDs returns the configured peer identities in ascending order.
func (ps *peerSet) IDs() []int64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	ids := make([]int64, 0, len(ps.peers))
	for id := range ps.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (ps *peerSet) Close() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, p := range ps.peers {
		_ = p.Close()
	}
}
