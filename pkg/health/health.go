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

// Package health implements liveness and readiness probes for a KME node.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeremyhahn/go-kmespread/pkg/storage"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is functioning but with reduced capacity.
	StatusDegraded Status = "degraded"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs a health check. It should return quickly.
type CheckFunc func(ctx context.Context) CheckResult

// Checker manages readiness checks and the startup flag of a node.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
	}
}

// RegisterCheck adds or replaces the check with the given name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted marks the node as fully started.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkNotStarted marks the node as not started, e.g. during shutdown.
func (c *Checker) MarkNotStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// Live reports that the process is running.
func (c *Checker) Live(_ context.Context) CheckResult {
	return CheckResult{
		Name:    "liveness",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("alive (uptime: %s)", c.Uptime().Round(time.Second)),
	}
}

// Ready runs every registered check in name order. A node that has not been
// marked started is reported unhealthy.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	started := c.started
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make([]CheckResult, 0, len(names)+1)
	if !started {
		results = append(results, CheckResult{
			Name:    "startup",
			Status:  StatusUnhealthy,
			Message: "node initialization not complete",
		})
	}
	for _, name := range names {
		start := time.Now()
		result := checks[name](ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}
	if len(results) == 0 {
		results = append(results, CheckResult{
			Name:    "default",
			Status:  StatusHealthy,
			Message: "no readiness checks configured",
		})
	}
	return results
}

// IsStarted returns true if the node has been marked as started.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Uptime returns how long the checker has existed.
func (c *Checker) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.startTime)
}

// AggregateStatus returns unhealthy if any check is unhealthy, degraded if
// any is degraded, and healthy otherwise.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// StorageCheck verifies that backend answers a List call.
func StorageCheck(backend storage.Backend) CheckFunc {
	return func(_ context.Context) CheckResult {
		if _, err := backend.List(storage.EnvelopePrefix); err != nil {
			return CheckResult{Name: "storage", Status: StatusUnhealthy, Error: err.Error()}
		}
		return CheckResult{Name: "storage", Status: StatusHealthy}
	}
}

// InboxCheck reports the inbox size and turns degraded once it holds more
// than limit envelopes. A limit of zero disables the threshold.
func InboxCheck(size func() (int, error), limit int) CheckFunc {
	return func(_ context.Context) CheckResult {
		n, err := size()
		if err != nil {
			return CheckResult{Name: "inbox", Status: StatusUnhealthy, Error: err.Error()}
		}
		result := CheckResult{Name: "inbox", Status: StatusHealthy, Message: fmt.Sprintf("%d envelopes held", n)}
		if limit > 0 && n > limit {
			result.Status = StatusDegraded
		}
		return result
	}
}
