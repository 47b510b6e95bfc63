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

// Package ratelimit throttles inbound envelope deliveries per sending peer
// with token buckets from golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PeerHeader carries the sending KME identity on envelope deliveries.
const PeerHeader = "X-KME-ID"

// Limiter implements a token bucket rate limiter with per-peer tracking.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rate     rate.Limit
	burst    int
	enabled  bool
	maxIdle  time.Duration
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// RequestsPerMinute sets the sustained per-peer rate.
	RequestsPerMinute int

	// Burst allows short bursts above the sustained rate.
	// Defaults to RequestsPerMinute.
	Burst int

	// MaxIdle is how long a peer can be idle before its bucket is dropped.
	// Defaults to 30 minutes.
	MaxIdle time.Duration
}

// New creates a rate limiter. A nil config disables limiting.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{}
	}
	burst := config.Burst
	if burst == 0 {
		burst = config.RequestsPerMinute
	}
	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		burst:    burst,
		enabled:  config.Enabled,
		maxIdle:  maxIdle,
	}
}

func (l *Limiter) getLimiter(peerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[peerID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[peerID] = limiter
	}
	l.lastSeen[peerID] = time.Now()
	return limiter
}

// Allow reports whether a delivery from peerID is within its rate.
func (l *Limiter) Allow(peerID string) bool {
	if !l.enabled {
		return true
	}
	return l.getLimiter(peerID).Allow()
}

// Wait blocks until peerID may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, peerID string) error {
	if !l.enabled {
		return nil
	}
	return l.getLimiter(peerID).Wait(ctx)
}

// Run drops idle peer buckets every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if !l.enabled {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for peerID, lastSeen := range l.lastSeen {
		if now.Sub(lastSeen) > l.maxIdle {
			delete(l.limiters, peerID)
			delete(l.lastSeen, peerID)
		}
	}
}

// ActivePeers returns the number of tracked peers.
func (l *Limiter) ActivePeers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware rejects requests over the per-peer rate with 429.
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(PeerKey(r)) {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PeerKey identifies the sender of a request: the declared KME identity if
// present, otherwise the client IP.
func PeerKey(r *http.Request) string {
	if id := r.Header.Get(PeerHeader); id != "" {
		return "kme:" + id
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
