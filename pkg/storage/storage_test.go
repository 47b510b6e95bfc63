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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	m := NewMemory()

	value := []byte("envelope")
	require.NoError(t, m.Put("envelopes/1", value, nil))
	value[0] = 'X'

	got, err := m.Get("envelopes/1")
	require.NoError(t, err)
	assert.Equal(t, "envelope", string(got))

	got[0] = 'Y'
	again, _ := m.Get("envelopes/1")
	assert.Equal(t, "envelope", string(again))

	ok, err := m.Exists("envelopes/1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, m.Put("", nil, nil), ErrInvalidKey)
	assert.ErrorIs(t, m.Delete("missing"), ErrNotFound)
	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Close())
	_, err = m.Get("envelopes/1")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.List("")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Exists("envelopes/1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBackend_ListSorted(t *testing.T) {
	m := NewMemory()
	for _, k := range []string{"envelopes/3", "secret/current", "envelopes/1", "envelopes/2"} {
		require.NoError(t, m.Put(k, []byte(k), nil))
	}

	keys, err := m.List(EnvelopePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"envelopes/1", "envelopes/2", "envelopes/3"}, keys)
}

func TestEnvelopePath(t *testing.T) {
	assert.Equal(t, "envelopes/00000000000000000042", EnvelopePath(42))
	assert.Less(t, EnvelopePath(9), EnvelopePath(10))

	seq, err := ParseEnvelopePath(EnvelopePath(1 << 40))
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), seq)

	_, err = ParseEnvelopePath("secret/current")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParseEnvelopePath("envelopes/abc")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
