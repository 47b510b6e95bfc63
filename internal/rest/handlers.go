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

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/jeremyhahn/go-kmespread/pkg/health"
	"github.com/jeremyhahn/go-kmespread/pkg/kme"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
)

// HandlerContext holds dependencies for REST handlers.
type HandlerContext struct {
	// Version is the API version
	Version string
	// HealthChecker manages health check probes
	HealthChecker HealthChecker

	node   Node
	peers  PeerResolver
	logger logging.Logger
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	Live(ctx context.Context) health.CheckResult
	Ready(ctx context.Context) []health.CheckResult
}

// NewHandlerContext creates a new handler context.
func NewHandlerContext(node Node, peers PeerResolver, version string) *HandlerContext {
	return &HandlerContext{
		Version: version,
		node:    node,
		peers:   peers,
		logger:  logging.Discard(),
	}
}

// SetHealthChecker sets the health checker for the handler context.
func (h *HandlerContext) SetHealthChecker(checker HealthChecker) {
	h.HealthChecker = checker
}

// HealthHandler handles GET /health requests.
func (h *HandlerContext) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.Version,
		KME:     h.node.ID(),
	}
	writeJSON(w, resp, http.StatusOK)
}

// ReceiveHandler handles POST /api/v1/envelopes requests. The body is one
// wire envelope.
func (h *HandlerContext) ReceiveHandler(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/octet-stream" {
			handleError(w, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, ct))
			return
		}
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := h.node.Receive(r.Context(), data); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SpreadHandler handles POST /api/v1/spread requests.
func (h *HandlerContext) SpreadHandler(w http.ResponseWriter, r *http.Request) {
	var req SpreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(w, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
		return
	}

	destinations := make([]kme.Peer, 0, len(req.Destinations))
	for _, id := range req.Destinations {
		peer, ok := h.peers(id)
		if !ok {
			handleError(w, fmt.Errorf("%w: kme %d", ErrUnknownPeer, id))
			return
		}
		destinations = append(destinations, peer)
	}

	if err := h.node.Spread(r.Context(), destinations); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, SpreadResponse{
		Destinations: len(destinations),
		Message:      "spread complete",
	}, http.StatusOK)
}

// SetSecretHandler handles PUT /api/v1/secret requests.
func (h *HandlerContext) SetSecretHandler(w http.ResponseWriter, r *http.Request) {
	var req SecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(w, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
		return
	}
	if err := h.node.SetSecret(req.Secret); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReconstructHandler handles GET /api/v1/secret requests.
func (h *HandlerContext) ReconstructHandler(w http.ResponseWriter, r *http.Request) {
	secret, ok := h.node.TryReconstruct()
	if !ok {
		handleError(w, ErrNothingRecoverable)
		return
	}
	writeJSON(w, SecretResponse{Secret: secret}, http.StatusOK)
}

// StatusHandler handles GET /api/v1/status requests.
func (h *HandlerContext) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.node.Status()
	if err != nil {
		h.logger.Error("failed to read status", logging.Error(err))
		handleError(w, err)
		return
	}
	writeJSON(w, status, http.StatusOK)
}
