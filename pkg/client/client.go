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

// Package client talks to KME nodes over their REST API. Peer delivers
// envelopes to a remote node and satisfies kme.Peer, so a local KME spreads
// to remote nodes exactly as it does to in-process ones. Client is the
// operator side: status, spread, secret assignment and reconstruction.
package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNoSecret is returned by Reconstruct when the node cannot recover a
	// secret from what it holds.
	ErrNoSecret = errors.New("no secret recoverable")
	// ErrInvalidAddress is returned for addresses that are not http(s) URLs
	ErrInvalidAddress = errors.New("invalid server address")
)

// Config configures a node client.
type Config struct {
	// Address is the node base URL, http://host:port or https://host:port.
	// A bare host:port is taken as http.
	Address string

	// TLSConfig is used for https addresses (optional)
	TLSConfig *tls.Config

	// Timeout bounds each request (default: 30s)
	Timeout time.Duration

	// Sender is the identity announced on deliveries; 0 omits it
	Sender int64

	// Headers are additional HTTP headers to include in requests
	Headers map[string]string
}

// ServerError is a non-2xx response from a node.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	KME     int64  `json:"kme"`
}

// SpreadRequest names spread destinations in delivery order.
type SpreadRequest struct {
	Destinations []int64 `json:"destinations"`
}

// SpreadResponse reports a completed spread.
type SpreadResponse struct {
	Destinations int    `json:"destinations"`
	Message      string `json:"message,omitempty"`
}

// SecretRequest assigns the held secret.
type SecretRequest struct {
	Secret []byte `json:"secret"`
}

// SecretResponse carries a held or reconstructed secret.
type SecretResponse struct {
	Secret []byte `json:"secret"`
}

// normalizeAddress turns an address into a base URL without trailing slash.
func normalizeAddress(address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, address)
	}
	return strings.TrimSuffix(address, "/"), nil
}
