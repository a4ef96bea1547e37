package core

import (
	"time"
)

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting routing and chain metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordRouteDuration records how long the final successful attempt of a
	// routed task took.
	RecordRouteDuration(task string, duration time.Duration)

	// RecordRouteFailure records a route that did not produce a result.
	//
	// Parameters:
	// - task: The task name
	// - reason: "no_candidates", "exhausted" or "canceled"
	RecordRouteFailure(task string, reason string)

	// RecordRetry records that a failed attempt is about to be retried.
	RecordRetry(task string, attempt int)

	// RecordGateWait records how long a route waited for a concurrency slot.
	RecordGateWait(task string, wait time.Duration)

	// RecordChainOutcome records the outcome of one JobChain run.
	//
	// Parameters:
	// - chain: The chain name
	// - status: "completed", "partial" or "failed"
	RecordChainOutcome(chain string, status string)

	// RecordQueueDepth records the current queue depth of a worker pool.
	RecordQueueDepth(pool string, depth int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordRouteDuration is a no-op.
func (m *NilMetrics) RecordRouteDuration(task string, duration time.Duration) {}

// RecordRouteFailure is a no-op.
func (m *NilMetrics) RecordRouteFailure(task string, reason string) {}

// RecordRetry is a no-op.
func (m *NilMetrics) RecordRetry(task string, attempt int) {}

// RecordGateWait is a no-op.
func (m *NilMetrics) RecordGateWait(task string, wait time.Duration) {}

// RecordChainOutcome is a no-op.
func (m *NilMetrics) RecordChainOutcome(chain string, status string) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(pool string, depth int) {}

// Chain outcome labels.
const (
	ChainCompleted = "completed"
	ChainPartial   = "partial"
	ChainFailed    = "failed"
)

// Route failure labels.
const (
	FailureNoCandidates = "no_candidates"
	FailureExhausted    = "exhausted"
	FailureCanceled     = "canceled"
)
