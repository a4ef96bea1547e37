package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// recordingMetrics counts Metrics calls.
type recordingMetrics struct {
	NilMetrics
	mu       sync.Mutex
	failures map[string]int
	retries  int
	routed   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failures: make(map[string]int)}
}

func (m *recordingMetrics) RecordRouteFailure(task string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reason]++
}

func (m *recordingMetrics) RecordRetry(task string, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *recordingMetrics) RecordRouteDuration(task string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routed++
}

func newTestRouter(t *testing.T, opts ...RouterOption) *TaskRouter {
	t.Helper()
	base := []RouterOption{WithRetryPolicy(RetryPolicy{MaxRetries: 3})}
	r, err := NewTaskRouter(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewTaskRouter failed: %v", err)
	}
	return r
}

func constant(v any) InvokerFunc {
	return func(ctx context.Context, args Args) (any, error) { return v, nil }
}

func TestNewTaskRouter_InvalidConcurrency(t *testing.T) {
	if _, err := NewTaskRouter(WithMaxConcurrency(0)); !errors.Is(err, ErrInvalidConcurrency) {
		t.Fatalf("NewTaskRouter(0) error = %v, want ErrInvalidConcurrency", err)
	}
}

func TestTaskRouter_RegisterTaskValidation(t *testing.T) {
	r := newTestRouter(t)
	if err := r.RegisterTask("", constant(1)); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("empty name error = %v", err)
	}
	if err := r.RegisterTask("x", nil); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("nil impl error = %v", err)
	}
	if err := r.RegisterFunc("x", nil); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("nil func error = %v", err)
	}
}

// TestTaskRouter_RouteUnregistered verifies the no-candidate path
// Given: A router with no registration for "virus_scan"
// When: Route is called for it
// Then: A RoutingError(NoCandidates) is returned and no metrics are mutated
func TestTaskRouter_RouteUnregistered(t *testing.T) {
	// Arrange
	metrics := newRecordingMetrics()
	r := newTestRouter(t, WithMetrics(metrics))

	// Act
	_, err := r.Route(context.Background(), "virus_scan", NewArgs("/path/to/file1"))

	// Assert
	var routingErr *RoutingError
	if !errors.As(err, &routingErr) || routingErr.Reason != NoCandidates {
		t.Fatalf("err = %v, want RoutingError(NoCandidates)", err)
	}
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatal("err should match ErrNoCandidates")
	}
	if rec := r.Metrics("virus_scan"); rec != (PerformanceRecord{Priority: 1}) {
		t.Fatalf("metrics mutated: %+v", rec)
	}
	if r.perf.Len() != 0 {
		t.Fatalf("performance table has %d records, want 0", r.perf.Len())
	}
	if len(r.GetHistory("virus_scan")) != 0 {
		t.Fatal("history should be empty")
	}
	if metrics.failures[FailureNoCandidates] != 1 {
		t.Fatalf("no_candidates failures = %d, want 1", metrics.failures[FailureNoCandidates])
	}
}

func TestTaskRouter_RouteSuccessRecordsMetricsAndHistory(t *testing.T) {
	clock := &steppingClock{now: time.Unix(0, 0), step: 10 * time.Millisecond}
	r := newTestRouter(t, WithClock(clock.Now))

	if err := r.RegisterFunc("resize_image", func(ctx context.Context, args Args) (any, error) {
		path, err := Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		size, _ := NamedArgOr(args, "size", "800x600")
		return fmt.Sprintf("Image %s resized to %s", path, size), nil
	}); err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}

	got, err := r.Route(context.Background(), "resize_image", NewArgs("/path/to/image2.jpg").With("size", "1024x768"))
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if want := "Image /path/to/image2.jpg resized to 1024x768"; got != want {
		t.Fatalf("Route = %q, want %q", got, want)
	}

	rec := r.Metrics("resize_image")
	if rec.ExecTime != 10*time.Millisecond {
		t.Fatalf("ExecTime = %v, want 10ms", rec.ExecTime)
	}
	if rec.ErrorCount != 0 {
		t.Fatalf("ErrorCount = %d, want 0", rec.ErrorCount)
	}

	history := r.GetHistory("resize_image")
	if len(history) != 1 || history[0].Result != got || history[0].ExecTime != 10*time.Millisecond {
		t.Fatalf("history = %+v", history)
	}

	stats := r.Stats()
	if stats.Routed != 1 || stats.Failed != 0 || stats.Tasks != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

// TestTaskRouter_RetriesThenTaskFailed verifies terminal failure handling
// Given: maxRetries = 2 for a task whose implementation always fails
// When: Route is called
// Then: The implementation runs 3 times, TaskFailed is returned, errorCount is 1 and no history is kept
func TestTaskRouter_RetriesThenTaskFailed(t *testing.T) {
	// Arrange
	metrics := newRecordingMetrics()
	r := newTestRouter(t, WithMetrics(metrics), WithTaskRetryPolicy("extract_metadata", RetryPolicy{MaxRetries: 2}))
	var calls atomic.Int32
	cause := errors.New("corrupt file")
	_ = r.RegisterFunc("extract_metadata", func(ctx context.Context, args Args) (any, error) {
		calls.Add(1)
		return nil, cause
	})

	// Act
	_, err := r.Route(context.Background(), "extract_metadata", NewArgs("/path/to/file3.docx"))

	// Assert
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	var failed *TaskFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want TaskFailedError", err)
	}
	if failed.Task != "extract_metadata" || failed.Attempts != 3 || !errors.Is(err, cause) {
		t.Fatalf("TaskFailedError = %+v", failed)
	}
	if rec := r.Metrics("extract_metadata"); rec.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, want 1", rec.ErrorCount)
	}
	if len(r.GetHistory("extract_metadata")) != 0 {
		t.Fatal("failed routes must not record history")
	}
	if metrics.retries != 2 || metrics.failures[FailureExhausted] != 1 {
		t.Fatalf("metrics retries = %d, exhausted = %d", metrics.retries, metrics.failures[FailureExhausted])
	}
	if r.MaxConcurrency() != r.gate.Stats().Max || r.gate.InFlight() != 0 {
		t.Fatal("gate slot not released after failure")
	}
}

func TestTaskRouter_DefaultRetryBudget(t *testing.T) {
	r := newTestRouter(t)
	var calls atomic.Int32
	_ = r.RegisterFunc("always_fails", func(ctx context.Context, args Args) (any, error) {
		calls.Add(1)
		return nil, errors.New("nope")
	})

	_, err := r.Route(context.Background(), "always_fails", Args{})
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("err = %v, want ErrTaskFailed", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("calls = %d, want 4", calls.Load())
	}
}

func TestTaskRouter_PanicIsRetriedAsFailure(t *testing.T) {
	r := newTestRouter(t, WithRetryPolicy(RetryPolicy{MaxRetries: 1}))
	var calls atomic.Int32
	_ = r.RegisterFunc("panicky", func(ctx context.Context, args Args) (any, error) {
		if calls.Add(1) == 1 {
			panic("first call explodes")
		}
		return "ok", nil
	})

	got, err := r.Route(context.Background(), "panicky", Args{})
	if err != nil || got != "ok" {
		t.Fatalf("Route = %v, %v; want ok, nil", got, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

// TestTaskRouter_FirstRegisteredWins verifies tie-breaking across candidates
// Given: Three candidates for one name, all sharing a single metrics record
// When: Route is called several times, including after a failure
// Then: The first registered candidate is always selected
func TestTaskRouter_FirstRegisteredWins(t *testing.T) {
	// Arrange
	r := newTestRouter(t, WithRetryPolicy(NoRetry()))
	var firstFails atomic.Bool
	_ = r.RegisterFunc("virus_scan", func(ctx context.Context, args Args) (any, error) {
		if firstFails.Load() {
			return nil, errors.New("engine offline")
		}
		return "first", nil
	})
	_ = r.RegisterTask("virus_scan", constant("second"))
	_ = r.RegisterTask("virus_scan", constant("third"))

	// Act and Assert
	for range 3 {
		got, err := r.Route(context.Background(), "virus_scan", Args{})
		if err != nil || got != "first" {
			t.Fatalf("Route = %v, %v; want first", got, err)
		}
	}

	firstFails.Store(true)
	if _, err := r.Route(context.Background(), "virus_scan", Args{}); !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("err = %v, want ErrTaskFailed", err)
	}
	if r.Candidates("virus_scan") != 3 {
		t.Fatalf("Candidates = %d, want 3", r.Candidates("virus_scan"))
	}
	firstFails.Store(false)
	if got, _ := r.Route(context.Background(), "virus_scan", Args{}); got != "first" {
		t.Fatalf("after failure Route = %v, want first", got)
	}
}

func TestTaskRouter_HistoryBoundedAndIdempotent(t *testing.T) {
	r := newTestRouter(t)
	var n atomic.Int32
	_ = r.RegisterFunc("counter", func(ctx context.Context, args Args) (any, error) {
		return int(n.Add(1)), nil
	})

	for range HistoryCapacity + 1 {
		if _, err := r.Route(context.Background(), "counter", Args{}); err != nil {
			t.Fatalf("Route failed: %v", err)
		}
	}

	first := r.GetHistory("counter")
	second := r.GetHistory("counter")
	if len(first) != HistoryCapacity {
		t.Fatalf("len(history) = %d, want %d", len(first), HistoryCapacity)
	}
	if first[0].Result != 2 || first[len(first)-1].Result != 11 {
		t.Fatalf("history bounds = %v .. %v, want 2 .. 11", first[0].Result, first[len(first)-1].Result)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("GetHistory is not idempotent")
	}
}

// TestTaskRouter_ConcurrencyCap verifies bounded concurrent routing
// Given: maxConcurrency = 2 and 6 distinct tasks that block until released
// When: All 6 are routed concurrently
// Then: At most 2 execute at once, 4 wait, and every route eventually succeeds
func TestTaskRouter_ConcurrencyCap(t *testing.T) {
	// Arrange
	const k, n = 2, 6
	r := newTestRouter(t, WithMaxConcurrency(k))
	release := make(chan struct{})
	var executing, peak atomic.Int32

	for i := range n {
		_ = r.RegisterFunc(fmt.Sprintf("task-%d", i), func(ctx context.Context, args Args) (any, error) {
			cur := executing.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			<-release
			executing.Add(-1)
			return i, nil
		})
	}

	// Act
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Route(context.Background(), fmt.Sprintf("task-%d", i), Args{})
			if err != nil {
				errs <- err
				return
			}
			if got != i {
				errs <- fmt.Errorf("task-%d returned %v", i, got)
			}
		}()
	}

	// Assert
	waitFor(t, 2*time.Second, func() bool {
		s := r.Stats().Gate
		return s.InFlight == k && s.Waiting == n-k
	}, "gate full with excess callers waiting")
	if executing.Load() != k {
		t.Fatalf("executing = %d, want %d", executing.Load(), k)
	}

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("route failed: %v", err)
	}
	if p := peak.Load(); p > k {
		t.Fatalf("peak executing = %d, want <= %d", p, k)
	}
	if s := r.Stats(); s.Routed != n || s.Gate.InFlight != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestTaskRouter_RouteCanceledWhileWaiting(t *testing.T) {
	r := newTestRouter(t, WithMaxConcurrency(1))
	release := make(chan struct{})
	started := make(chan struct{})
	_ = r.RegisterFunc("slow", func(ctx context.Context, args Args) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	_ = r.RegisterTask("fast", constant("done"))

	go func() { _, _ = r.Route(context.Background(), "slow", Args{}) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Route(ctx, "fast", Args{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if rec := r.Metrics("fast"); rec.ErrorCount != 0 {
		t.Fatalf("a route that never ran must not count as an error: %+v", rec)
	}
	close(release)
}

func TestTaskRouter_InvokerRoutes(t *testing.T) {
	r := newTestRouter(t)
	_ = r.RegisterTask("virus_scan", constant("clean"))

	got, err := r.Invoker("virus_scan").Invoke(context.Background(), NewArgs("/f"))
	if err != nil || got != "clean" {
		t.Fatalf("Invoker().Invoke = %v, %v", got, err)
	}
	if len(r.GetHistory("virus_scan")) != 1 {
		t.Fatal("routing through Invoker should record history")
	}
}

func TestTaskRouter_SetPriority(t *testing.T) {
	r := newTestRouter(t)
	if err := r.SetPriority("virus_scan", 3); err != nil {
		t.Fatalf("SetPriority failed: %v", err)
	}
	if got := r.Metrics("virus_scan").Priority; got != 3 {
		t.Fatalf("Priority = %v, want 3", got)
	}
	if err := r.SetPriority("virus_scan", 0); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("SetPriority(0) error = %v", err)
	}
}
