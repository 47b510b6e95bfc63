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

// Package metrics provides Prometheus instrumentation for KME nodes.
// It counts spreads, deliveries and reconstructions, tracks inbox depth and
// records HTTP transport latencies for the node daemon.
package metrics

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all kmespread metrics
	Namespace = "kmespread"

	// Label names
	LabelOperation  = "operation"
	LabelScheme     = "scheme"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelKME        = "kme"
	LabelKind       = "kind"
	LabelResult     = "result"
	LabelReason     = "reason"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Reconstruction results
	ResultRecovered   = "recovered"
	ResultUnrecovered = "unrecovered"

	// Skip reasons
	ReasonInsufficient = "insufficient"
	ReasonCombine      = "combine_failed"
	ReasonDecode       = "decode_failed"

	// Operation names
	OpSpread      = "spread"
	OpReceive     = "receive"
	OpReconstruct = "reconstruct"
	OpSplit       = "split"
	OpCombine     = "combine"
	OpDeliver     = "deliver"
)

var (
	// OperationsTotal counts KME operations by type, sharing scheme and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of KME operations by type, scheme, and status",
		},
		[]string{LabelOperation, LabelScheme, LabelStatus},
	)

	// OperationDuration tracks the duration of KME operations in seconds.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of KME operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{LabelOperation, LabelScheme},
	)

	// ErrorsTotal counts errors by operation and error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	// EnvelopesReceivedTotal counts envelopes accepted into an inbox by token kind.
	EnvelopesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "envelopes_received_total",
			Help:      "Total number of envelopes accepted by token kind",
		},
		[]string{LabelKind},
	)

	// EnvelopesSentTotal counts envelopes handed to destination KMEs by token kind.
	EnvelopesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "envelopes_sent_total",
			Help:      "Total number of envelopes delivered to destinations by token kind",
		},
		[]string{LabelKind},
	)

	// SpreadsTotal counts spread calls by status.
	SpreadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "spreads_total",
			Help:      "Total number of spread calls by status",
		},
		[]string{LabelStatus},
	)

	// ReconstructionsTotal counts reconstruction attempts by result.
	ReconstructionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconstructions_total",
			Help:      "Total number of reconstruction attempts by result",
		},
		[]string{LabelResult},
	)

	// GroupsSkippedTotal counts envelope groups that contributed nothing to a
	// reconstruction round.
	GroupsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "groups_skipped_total",
			Help:      "Total number of envelope groups skipped during reconstruction by reason",
		},
		[]string{LabelReason},
	)

	// InboxSize tracks the number of envelopes held per KME.
	InboxSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "inbox_envelopes",
			Help:      "Number of envelopes currently held in a KME inbox",
		},
		[]string{LabelKME},
	)

	// ReconstructionRounds records how many peeling rounds a successful
	// reconstruction took.
	ReconstructionRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "reconstruction_rounds",
			Help:      "Number of peeling rounds needed to reconstruct a secret",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines in the node.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the node uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Node uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordOperation records a KME operation with its duration and status.
//
// Example:
//
//	start := time.Now()
//	err := node.Spread(ctx, peers)
//	metrics.RecordOperation(metrics.OpSpread, "gf256", metrics.Status(err), time.Since(start).Seconds())
func RecordOperation(operation, scheme, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, scheme, status).Inc()
	OperationDuration.WithLabelValues(operation, scheme).Observe(duration)
}

// RecordError records an error event with context about where it occurred.
func RecordError(operation, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordEnvelopeReceived counts an envelope accepted into an inbox.
func RecordEnvelopeReceived(kind string) {
	if !enabled.Load() {
		return
	}
	EnvelopesReceivedTotal.WithLabelValues(kind).Inc()
}

// RecordEnvelopeSent counts an envelope delivered to a destination KME.
func RecordEnvelopeSent(kind string) {
	if !enabled.Load() {
		return
	}
	EnvelopesSentTotal.WithLabelValues(kind).Inc()
}

// RecordSpread counts a spread call.
func RecordSpread(err error) {
	if !enabled.Load() {
		return
	}
	SpreadsTotal.WithLabelValues(Status(err)).Inc()
}

// RecordReconstruction counts a reconstruction attempt. rounds is the number
// of peeling rounds that ran before the attempt finished.
func RecordReconstruction(recovered bool, rounds int) {
	if !enabled.Load() {
		return
	}
	if !recovered {
		ReconstructionsTotal.WithLabelValues(ResultUnrecovered).Inc()
		return
	}
	ReconstructionsTotal.WithLabelValues(ResultRecovered).Inc()
	ReconstructionRounds.Observe(float64(rounds))
}

// RecordGroupSkipped counts a group that contributed nothing to a round.
func RecordGroupSkipped(reason string) {
	if !enabled.Load() {
		return
	}
	GroupsSkippedTotal.WithLabelValues(reason).Inc()
}

// SetInboxSize sets the inbox gauge for the given KME.
func SetInboxSize(kme int64, size int) {
	if !enabled.Load() {
		return
	}
	InboxSize.WithLabelValues(strconv.FormatInt(kme, 10)).Set(float64(size))
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// Status maps an error to StatusSuccess or StatusError.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
