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
	"sync"

	"go.uber.org/atomic"

	"github.com/jeremyhahn/go-kmespread/pkg/envelope"
	"github.com/jeremyhahn/go-kmespread/pkg/storage"
)

// Inbox holds the envelopes a KME has received. Implementations serialize
// concurrent Appends; Snapshot must not observe a partially applied Drain.
type Inbox interface {
	// Append stores one envelope.
	Append(e *envelope.Envelope) error

	// Snapshot returns a copy of the held envelopes in arrival order.
	Snapshot() ([]*envelope.Envelope, error)

	// Drain removes and returns every held envelope in arrival order.
	Drain() ([]*envelope.Envelope, error)

	// Len returns the number of held envelopes.
	Len() (int, error)
}

// SecretKeeper is implemented by inboxes that also persist the held secret,
// so a restarted origin neither loses its secret nor spreads it twice.
type SecretKeeper interface {
	LoadSecret() ([]byte, error)
	StoreSecret(secret []byte) error
	ClearSecret() error
}

// MemoryInbox is the default in-process inbox.
type MemoryInbox struct {
	mu        sync.RWMutex
	envelopes []*envelope.Envelope
}

// NewMemoryInbox returns an empty in-memory inbox.
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{}
}

// Append stores a copy of e.
func (m *MemoryInbox) Append(e *envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes = append(m.envelopes, e.Clone())
	return nil
}

// Snapshot returns copies of the held envelopes.
func (m *MemoryInbox) Snapshot() ([]*envelope.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*envelope.Envelope, len(m.envelopes))
	for i, e := range m.envelopes {
		out[i] = e.Clone()
	}
	return out, nil
}

// Drain empties the inbox.
func (m *MemoryInbox) Drain() ([]*envelope.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.envelopes
	m.envelopes = nil
	return out, nil
}

// Len returns the number of held envelopes.
func (m *MemoryInbox) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.envelopes), nil
}

// StorageInbox persists envelopes in wire form under storage.EnvelopePrefix
// and the held secret under storage.SecretKey.
type StorageInbox struct {
	mu      sync.Mutex
	backend storage.Backend
	seq     *atomic.Uint64
}

// NewStorageInbox opens an inbox over backend, resuming the arrival sequence
// after any envelopes already stored.
func NewStorageInbox(backend storage.Backend) (*StorageInbox, error) {
	if backend == nil {
		return nil, errors.New("kme: storage inbox requires a backend")
	}
	keys, err := backend.List(storage.EnvelopePrefix)
	if err != nil {
		return nil, fmt.Errorf("kme: failed to list stored envelopes: %w", err)
	}
	var last uint64
	for _, k := range keys {
		seq, err := storage.ParseEnvelopePath(k)
		if err != nil {
			return nil, err
		}
		last = max(last, seq)
	}
	return &StorageInbox{
		backend: backend,
		seq:     atomic.NewUint64(last),
	}, nil
}

// Append encodes and stores e under the next sequence number.
func (s *StorageInbox) Append(e *envelope.Envelope) error {
	data, err := envelope.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Put(storage.EnvelopePath(s.seq.Inc()), data, storage.DefaultOptions())
}

// Snapshot decodes every stored envelope. Entries that no longer decode are
// skipped.
func (s *StorageInbox) Snapshot() ([]*envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envs, _, _, err := s.load()
	return envs, err
}

// Drain decodes and deletes every stored envelope. If a delete fails, the
// entries already removed are written back and nothing is returned.
func (s *StorageInbox) Drain() ([]*envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	envs, keys, raw, err := s.load()
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		if err := s.backend.Delete(k); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Join(
				fmt.Errorf("kme: failed to remove %s: %w", k, err),
				s.putBack(keys[:i], raw[:i]))
		}
	}
	return envs, nil
}

func (s *StorageInbox) putBack(keys []string, raw [][]byte) error {
	var errs []error
	for i, k := range keys {
		if raw[i] == nil {
			continue
		}
		if err := s.backend.Put(k, raw[i], storage.DefaultOptions()); err != nil {
			errs = append(errs, fmt.Errorf("kme: failed to put back %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of stored envelopes.
func (s *StorageInbox) Len() (int, error) {
	keys, err := s.backend.List(storage.EnvelopePrefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// load returns the decodable envelopes, every key that was listed and the
// raw value read for each key (nil when it vanished).
func (s *StorageInbox) load() ([]*envelope.Envelope, []string, [][]byte, error) {
	keys, err := s.backend.List(storage.EnvelopePrefix)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("kme: failed to list stored envelopes: %w", err)
	}
	envs := make([]*envelope.Envelope, 0, len(keys))
	raw := make([][]byte, len(keys))
	for i, k := range keys {
		data, err := s.backend.Get(k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("kme: failed to read %s: %w", k, err)
		}
		raw[i] = data
		e, err := envelope.Unmarshal(data)
		if err != nil {
			continue
		}
		envs = append(envs, e)
	}
	return envs, keys, raw, nil
}

// LoadSecret returns the persisted secret, or nil when none is stored.
func (s *StorageInbox) LoadSecret() ([]byte, error) {
	secret, err := s.backend.Get(storage.SecretKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return secret, err
}

// StoreSecret persists secret.
func (s *StorageInbox) StoreSecret(secret []byte) error {
	return s.backend.Put(storage.SecretKey, secret, storage.DefaultOptions())
}

// ClearSecret removes the persisted secret. Clearing an absent secret is not
// an error.
func (s *StorageInbox) ClearSecret() error {
	err := s.backend.Delete(storage.SecretKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
