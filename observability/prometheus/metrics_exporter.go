package prometheus

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Swind/go-task-orchestrator/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
	WaitBuckets     []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	routeDurationSeconds *prom.HistogramVec
	routeFailuresTotal   *prom.CounterVec
	retriesTotal         *prom.CounterVec
	gateWaitSeconds      *prom.HistogramVec
	chainRunsTotal       *prom.CounterVec
	queueDepth           *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "orchestrator"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	waitBuckets := opts.WaitBuckets
	if len(waitBuckets) == 0 {
		waitBuckets = prom.ExponentialBuckets(0.001, 4, 8)
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "route_duration_seconds",
		Help:      "Duration of the successful attempt of a routed task in seconds.",
		Buckets:   buckets,
	}, []string{"task"})
	failureVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "route_failures_total",
		Help:      "Total number of routes that produced no result.",
	}, []string{"task", "reason"})
	retryVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Total number of retried attempts.",
	}, []string{"task", "attempt"})
	waitVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "gate_wait_seconds",
		Help:      "Time spent waiting for a concurrency slot in seconds.",
		Buckets:   waitBuckets,
	}, []string{"task"})
	chainVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "chain_runs_total",
		Help:      "Total number of job chain runs by outcome.",
	}, []string{"chain", "status"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current worker pool queue depth.",
	}, []string{"pool"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if failureVec, err = registerCollector(reg, failureVec); err != nil {
		return nil, err
	}
	if retryVec, err = registerCollector(reg, retryVec); err != nil {
		return nil, err
	}
	if waitVec, err = registerCollector(reg, waitVec); err != nil {
		return nil, err
	}
	if chainVec, err = registerCollector(reg, chainVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		routeDurationSeconds: durationVec,
		routeFailuresTotal:   failureVec,
		retriesTotal:         retryVec,
		gateWaitSeconds:      waitVec,
		chainRunsTotal:       chainVec,
		queueDepth:           queueDepthVec,
	}, nil
}

// RecordRouteDuration records the duration of a successful routed attempt.
func (m *MetricsExporter) RecordRouteDuration(task string, duration time.Duration) {
	if m == nil {
		return
	}
	m.routeDurationSeconds.WithLabelValues(normalizeLabel(task, "unknown")).Observe(duration.Seconds())
}

// RecordRouteFailure records a route that produced no result.
func (m *MetricsExporter) RecordRouteFailure(task string, reason string) {
	if m == nil {
		return
	}
	m.routeFailuresTotal.WithLabelValues(normalizeLabel(task, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordRetry records a retried attempt.
func (m *MetricsExporter) RecordRetry(task string, attempt int) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(normalizeLabel(task, "unknown"), strconv.Itoa(attempt)).Inc()
}

// RecordGateWait records the time spent waiting for a gate slot.
func (m *MetricsExporter) RecordGateWait(task string, wait time.Duration) {
	if m == nil {
		return
	}
	m.gateWaitSeconds.WithLabelValues(normalizeLabel(task, "unknown")).Observe(wait.Seconds())
}

// RecordChainOutcome records one job chain run.
func (m *MetricsExporter) RecordChainOutcome(chain string, status string) {
	if m == nil {
		return
	}
	m.chainRunsTotal.WithLabelValues(normalizeLabel(chain, "job"), normalizeLabel(status, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(pool string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(pool, "unknown")).Set(float64(depth))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
