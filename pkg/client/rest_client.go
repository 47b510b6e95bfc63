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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/jeremyhahn/go-kmespread/pkg/correlation"
	"github.com/jeremyhahn/go-kmespread/pkg/kme"
	"github.com/jeremyhahn/go-kmespread/pkg/ratelimit"
)

// Client is an HTTP client for one KME node.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// New creates a client for the node at cfg.Address.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidAddress)
	}
	baseURL, err := normalizeAddress(cfg.Address)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		config:  cfg,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: cfg.TLSConfig},
		},
	}, nil
}

// NewFromURL creates a client with default settings.
func NewFromURL(serverURL string) (*Client, error) {
	return New(&Config{Address: serverURL})
}

// BaseURL returns the normalized node URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// doRequest performs an HTTP request to the node. body is sent as JSON
// unless it is a []byte, which is sent as an octet stream.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var (
		reqBody     io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case []byte:
		reqBody = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.config.Sender != 0 {
		req.Header.Set(ratelimit.PeerHeader, strconv.FormatInt(c.config.Sender, 10))
	}
	correlation.Inject(ctx, req)
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("failed to close response body: %v", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		serverErr := &ServerError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			serverErr.Message = errResp.Error
		}
		return nil, serverErr
	}

	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, method, path string, body, out interface{}) error {
	data, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Health checks the health of the node.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns what the node holds.
func (c *Client) Status(ctx context.Context) (*kme.Status, error) {
	var resp kme.Status
	if err := c.getJSON(ctx, http.MethodGet, "/api/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Spread asks the node to spread to the given peer identities.
func (c *Client) Spread(ctx context.Context, destinations []int64) (*SpreadResponse, error) {
	var resp SpreadResponse
	req := &SpreadRequest{Destinations: destinations}
	if err := c.getJSON(ctx, http.MethodPost, "/api/v1/spread", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetSecret assigns the node's held secret.
func (c *Client) SetSecret(ctx context.Context, secret []byte) error {
	_, err := c.doRequest(ctx, http.MethodPut, "/api/v1/secret", &SecretRequest{Secret: secret})
	return err
}

// Reconstruct asks the node to recover a secret. It returns ErrNoSecret
// when nothing is recoverable.
func (c *Client) Reconstruct(ctx context.Context) ([]byte, error) {
	var resp SecretResponse
	err := c.getJSON(ctx, http.MethodGet, "/api/v1/secret", nil, &resp)
	var serverErr *ServerError
	if errors.As(err, &serverErr) && serverErr.StatusCode == http.StatusNotFound {
		return nil, ErrNoSecret
	}
	if err != nil {
		return nil, err
	}
	return resp.Secret, nil
}

// Deliver posts one wire envelope to the node.
func (c *Client) Deliver(ctx context.Context, data []byte) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/envelopes", data)
	return err
}
