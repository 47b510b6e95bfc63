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

package rest

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	KME     int64  `json:"kme"`
}

// SpreadRequest names the destinations of a spread, in delivery order.
type SpreadRequest struct {
	Destinations []int64 `json:"destinations"`
}

// SpreadResponse reports a completed spread.
type SpreadResponse struct {
	Destinations int    `json:"destinations"`
	Message      string `json:"message,omitempty"`
}

// SecretRequest assigns the held secret. Secret is base64 encoded on the
// wire.
type SecretRequest struct {
	Secret []byte `json:"secret"`
}

// SecretResponse carries a held or reconstructed secret.
type SecretResponse struct {
	Secret []byte `json:"secret"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
