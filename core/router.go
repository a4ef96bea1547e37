package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxConcurrency = 4

// TaskRouter routes named tasks to one of their registered candidates.
//
// A route selects the candidate with the lowest PerformanceRecord score, waits
// for a ConcurrencyGate slot, invokes the candidate through the RetryPolicy and
// records the outcome. The router exclusively owns its metrics, history and gate.
type TaskRouter struct {
	name string

	registryMu sync.RWMutex
	registry   map[string][]Invoker

	perf    *PerformanceMetrics
	history *TaskHistory
	gate    *ConcurrencyGate

	retryPolicy   RetryPolicy
	taskPolicies  map[string]RetryPolicy
	policiesMu    sync.RWMutex
	logger        Logger
	metrics       Metrics
	now           func() time.Time
	maxConcurrent int

	routed atomic.Int64
	failed atomic.Int64
}

// RouterOption configures a TaskRouter.
type RouterOption func(*TaskRouter)

// WithMaxConcurrency sets the number of invocations allowed to run at once.
func WithMaxConcurrency(n int) RouterOption {
	return func(r *TaskRouter) { r.maxConcurrent = n }
}

// WithRetryPolicy sets the retry policy used by every task without an override.
func WithRetryPolicy(p RetryPolicy) RouterOption {
	return func(r *TaskRouter) { r.retryPolicy = p }
}

// WithTaskRetryPolicy overrides the retry policy for one task name.
func WithTaskRetryPolicy(task string, p RetryPolicy) RouterOption {
	return func(r *TaskRouter) { r.taskPolicies[task] = p }
}

// WithLogger sets the router logger.
func WithLogger(l Logger) RouterOption {
	return func(r *TaskRouter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) RouterOption {
	return func(r *TaskRouter) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithName sets the router name reported in Stats.
func WithName(name string) RouterOption {
	return func(r *TaskRouter) { r.name = name }
}

// WithClock replaces time.Now for execution time measurement.
func WithClock(now func() time.Time) RouterOption {
	return func(r *TaskRouter) {
		if now != nil {
			r.now = now
		}
	}
}

// NewTaskRouter creates a router. It returns ErrInvalidConcurrency when the
// configured concurrency is not positive.
func NewTaskRouter(opts ...RouterOption) (*TaskRouter, error) {
	r := &TaskRouter{
		name:          "router",
		registry:      make(map[string][]Invoker),
		perf:          NewPerformanceMetrics(),
		history:       NewTaskHistory(),
		retryPolicy:   DefaultRetryPolicy(),
		taskPolicies:  make(map[string]RetryPolicy),
		logger:        NewNoOpLogger(),
		metrics:       &NilMetrics{},
		now:           time.Now,
		maxConcurrent: defaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}

	gate, err := NewConcurrencyGate(r.maxConcurrent)
	if err != nil {
		return nil, err
	}
	r.gate = gate
	return r, nil
}

// =============================================================================
// Registration
// =============================================================================

// RegisterTask appends impl to the candidates of name. The same implementation
// may be registered more than once.
func (r *TaskRouter) RegisterTask(name string, impl Invoker) error {
	if name == "" {
		return fmt.Errorf("%w: empty task name", ErrInvalidTask)
	}
	if impl == nil {
		return fmt.Errorf("%w: nil implementation for %s", ErrInvalidTask, name)
	}

	r.registryMu.Lock()
	r.registry[name] = append(r.registry[name], impl)
	count := len(r.registry[name])
	r.registryMu.Unlock()

	r.logger.Debug("Registered task candidate", F("task", name), F("candidates", count))
	return nil
}

// RegisterFunc is RegisterTask for a plain function.
func (r *TaskRouter) RegisterFunc(name string, fn func(ctx context.Context, args Args) (any, error)) error {
	if fn == nil {
		return fmt.Errorf("%w: nil implementation for %s", ErrInvalidTask, name)
	}
	return r.RegisterTask(name, InvokerFunc(fn))
}

// SetTaskRetryPolicy overrides the retry policy of one task name.
func (r *TaskRouter) SetTaskRetryPolicy(name string, p RetryPolicy) {
	r.policiesMu.Lock()
	defer r.policiesMu.Unlock()
	r.taskPolicies[name] = p
}

// SetPriority sets the priority multiplier used when scoring name.
func (r *TaskRouter) SetPriority(name string, priority float64) error {
	return r.perf.SetPriority(name, priority)
}

// Candidates returns the number of implementations registered for name.
func (r *TaskRouter) Candidates(name string) int {
	r.registryMu.RLock()
	defer r.registryMu.RUnlock()
	return len(r.registry[name])
}

// =============================================================================
// Routing
// =============================================================================

// Route selects a candidate for name and invokes it with args.
//
// The call blocks while the concurrency gate is full. Retries happen inside a
// single gate slot. A RoutingError is returned when name has no candidates and
// a TaskFailedError once the retry budget is exhausted.
func (r *TaskRouter) Route(ctx context.Context, name string, args Args) (any, error) {
	candidate, index, ok := r.selectCandidate(name)
	if !ok {
		r.logger.Error("No tasks found", F("task", name))
		r.metrics.RecordRouteFailure(name, FailureNoCandidates)
		return nil, &RoutingError{Task: name, Reason: NoCandidates}
	}

	waitStart := r.now()
	if err := r.gate.Acquire(ctx); err != nil {
		r.metrics.RecordRouteFailure(name, FailureCanceled)
		return nil, fmt.Errorf("route %s: waiting for slot: %w", name, err)
	}
	defer r.gate.Release()
	r.metrics.RecordGateWait(name, r.now().Sub(waitStart))

	var (
		result   any
		execTime time.Duration
	)
	attempts, err := r.policyFor(name).run(ctx, name, r.logger, r.metrics, func(ctx context.Context) error {
		start := r.now()
		out, err := invokeSafely(ctx, candidate, args)
		execTime = r.now().Sub(start)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		r.perf.RecordFailure(name)
		r.failed.Add(1)
		reason := FailureExhausted
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reason = FailureCanceled
		}
		r.metrics.RecordRouteFailure(name, reason)
		r.logger.Error("Task failed",
			F("task", name),
			F("candidate", index),
			F("attempts", attempts),
			F("error", err))
		return nil, &TaskFailedError{Task: name, Attempts: attempts, Cause: err}
	}

	r.perf.RecordSuccess(name, execTime)
	r.history.Add(name, result, execTime, r.now())
	r.routed.Add(1)
	r.metrics.RecordRouteDuration(name, execTime)
	r.logger.Info("Executed task",
		F("task", name),
		F("candidate", index),
		F("execTime", execTime),
		F("attempts", attempts))
	return result, nil
}

// Invoker returns an Invoker that routes every call to name. It lets a
// JobChain step go through the router.
func (r *TaskRouter) Invoker(name string) Invoker {
	return InvokerFunc(func(ctx context.Context, args Args) (any, error) {
		return r.Route(ctx, name, args)
	})
}

// selectCandidate returns the candidate with the lowest score; the first
// registered candidate wins ties. All candidates of one name share a single
// PerformanceRecord.
func (r *TaskRouter) selectCandidate(name string) (Invoker, int, bool) {
	r.registryMu.RLock()
	candidates := r.registry[name]
	r.registryMu.RUnlock()

	if len(candidates) == 0 {
		return nil, -1, false
	}

	best := 0
	bestScore := r.perf.Score(name)
	for i := 1; i < len(candidates); i++ {
		if score := r.perf.Score(name); score < bestScore {
			best, bestScore = i, score
		}
	}
	return candidates[best], best, true
}

func (r *TaskRouter) policyFor(name string) RetryPolicy {
	r.policiesMu.RLock()
	defer r.policiesMu.RUnlock()
	if p, ok := r.taskPolicies[name]; ok {
		return p
	}
	return r.retryPolicy
}

func invokeSafely(ctx context.Context, impl Invoker, args Args) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	return impl.Invoke(ctx, args)
}

// =============================================================================
// Read Operations
// =============================================================================

// GetHistory returns the successful invocations of name, oldest first.
func (r *TaskRouter) GetHistory(name string) []HistoryEntry {
	return r.history.Snapshot(name)
}

// Metrics returns a copy of the performance record of name.
func (r *TaskRouter) Metrics(name string) PerformanceRecord {
	return r.perf.Get(name)
}

// MaxConcurrency returns the gate limit.
func (r *TaskRouter) MaxConcurrency() int {
	return r.gate.Max()
}

// Stats returns current observability data for this router.
func (r *TaskRouter) Stats() RouterStats {
	r.registryMu.RLock()
	tasks := len(r.registry)
	r.registryMu.RUnlock()

	return RouterStats{
		Name:   r.name,
		Tasks:  tasks,
		Routed: r.routed.Load(),
		Failed: r.failed.Load(),
		Gate:   r.gate.Stats(),
	}
}
