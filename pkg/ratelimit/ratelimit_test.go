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

package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Disabled(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("kme:1"))
	}
	assert.NoError(t, l.Wait(context.Background(), "kme:1"))
	assert.Zero(t, l.ActivePeers())
}

func TestLimiter_PerPeerBuckets(t *testing.T) {
	l := New(&Config{Enabled: true, RequestsPerMinute: 1, Burst: 2})

	assert.True(t, l.Allow("kme:1"))
	assert.True(t, l.Allow("kme:1"))
	assert.False(t, l.Allow("kme:1"))

	assert.True(t, l.Allow("kme:2"), "peers do not share a bucket")
	assert.Equal(t, 2, l.ActivePeers())
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := New(&Config{Enabled: true, RequestsPerMinute: 1, Burst: 1})
	require.True(t, l.Allow("kme:1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "kme:1"))
}

func TestLimiter_Cleanup(t *testing.T) {
	l := New(&Config{Enabled: true, RequestsPerMinute: 60, MaxIdle: time.Nanosecond})
	l.Allow("kme:1")
	time.Sleep(time.Millisecond)
	l.cleanup()
	assert.Zero(t, l.ActivePeers())
}

func TestMiddleware(t *testing.T) {
	l := New(&Config{Enabled: true, RequestsPerMinute: 1, Burst: 1})
	handler := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	send := func(peer string) int {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/envelopes", nil)
		r.Header.Set(PeerHeader, peer)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, send("1"))
	assert.Equal(t, http.StatusTooManyRequests, send("1"))
	assert.Equal(t, http.StatusAccepted, send("2"))
}

func TestPeerKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "10.0.0.5:4242"
	assert.Equal(t, "10.0.0.5", PeerKey(r))

	r.Header.Set("X-Real-IP", "10.0.0.6")
	assert.Equal(t, "10.0.0.6", PeerKey(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.8")
	assert.Equal(t, "10.0.0.7", PeerKey(r))

	r.Header.Set(PeerHeader, "3")
	assert.Equal(t, "kme:3", PeerKey(r))
}
