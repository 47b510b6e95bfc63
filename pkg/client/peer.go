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

package client

import (
	"context"

	"github.com/jeremyhahn/go-kmespread/pkg/kme"
)

var _ kme.Peer = (*Peer)(nil)

// Peer is a remote KME reached over HTTP.
type Peer struct {
	id     int64
	client *Client
}

// NewPeer creates a peer with identity id served at cfg.Address.
func NewPeer(id int64, cfg *Config) (*Peer, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Peer{id: id, client: c}, nil
}

// ID returns the remote KME identity.
func (p *Peer) ID() int64 {
	return p.id
}

// Receive delivers a wire envelope to the remote KME.
func (p *Peer) Receive(ctx context.Context, data []byte) error {
	return p.client.Deliver(ctx, data)
}

// Close releases idle connections.
func (p *Peer) Close() error {
	return p.client.Close()
}
