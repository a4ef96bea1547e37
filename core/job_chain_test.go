package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func double(ctx context.Context, args Args) (any, error) {
	x, err := Arg[int](args, 0)
	if err != nil {
		return nil, Terminal(err)
	}
	return x * 2, nil
}

func add3(ctx context.Context, args Args) (any, error) {
	x, err := Arg[int](args, 0)
	if err != nil {
		return nil, Terminal(err)
	}
	return x + 3, nil
}

func format(ctx context.Context, args Args) (any, error) {
	return fmt.Sprintf("Data stored: %v", args.Positional[0]), nil
}

func failing(msg string) func(ctx context.Context, args Args) (any, error) {
	return func(ctx context.Context, args Args) (any, error) {
		return nil, errors.New(msg)
	}
}

func buildChain(t *testing.T, chain *JobChain, steps ...any) {
	t.Helper()
	for i := 0; i < len(steps); i += 2 {
		name := steps[i].(string)
		fn := steps[i+1].(func(ctx context.Context, args Args) (any, error))
		if err := chain.AddFunc(name, fn, Args{}); err != nil {
			t.Fatalf("AddFunc(%s) failed: %v", name, err)
		}
	}
}

// TestJobChain_ExecuteCompletes verifies sequential value threading
// Given: A chain double -> add3 -> format
// When: Execute runs with input 10
// Then: The final value is "Data stored: 23" and every step output is stored
func TestJobChain_ExecuteCompletes(t *testing.T) {
	// Arrange
	chain := NewJobChain("pipeline", nil)
	buildChain(t, chain, "double", double, "add3", add3, "format", format)

	// Act
	out, err := chain.Execute(context.Background(), 10)

	// Assert
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if out.Partial {
		t.Fatal("complete run reported partial")
	}
	if out.Value != "Data stored: 23" {
		t.Fatalf("Value = %v, want Data stored: 23", out.Value)
	}
	if out.Completed != 3 {
		t.Fatalf("Completed = %d, want 3", out.Completed)
	}
	for name, want := range map[string]any{"double": 20, "add3": 23, "format": "Data stored: 23"} {
		if got, ok := chain.Store().Get(name); !ok || got != want {
			t.Errorf("store[%s] = %v, want %v", name, got, want)
		}
	}
}

// TestJobChain_PartialSuccess verifies fallback to the last stored result
// Given: A chain double -> add3 -> format where add3 fails
// When: Execute runs with input 10
// Then: Rollback runs once for add3 and the stored double output 20 is returned
func TestJobChain_PartialSuccess(t *testing.T) {
	// Arrange
	var rollbacks atomic.Int32
	var rolledBack StepInfo
	chain := NewJobChain("pipeline", nil, WithRollback(func(ctx context.Context, failed StepInfo) error {
		rollbacks.Add(1)
		rolledBack = failed
		return nil
	}))
	var formatCalled atomic.Bool
	buildChain(t, chain,
		"double", double,
		"add3", failing("add3 exploded"),
		"format", func(ctx context.Context, args Args) (any, error) {
			formatCalled.Store(true)
			return format(ctx, args)
		})

	// Act
	out, err := chain.Execute(context.Background(), 10)

	// Assert
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !out.Partial || out.Value != 20 {
		t.Fatalf("Outcome = %+v, want partial 20", out)
	}
	if out.FailedStep != "add3" || out.RecoveredFrom != "double" || out.Completed != 1 {
		t.Fatalf("Outcome = %+v", out)
	}
	if out.Cause == nil || out.Cause.Error() != "add3 exploded" {
		t.Fatalf("Cause = %v", out.Cause)
	}
	if rollbacks.Load() != 1 {
		t.Fatalf("rollback calls = %d, want 1", rollbacks.Load())
	}
	if rolledBack.Name != "add3" || rolledBack.Index != 1 || rolledBack.RunID != out.RunID {
		t.Fatalf("rollback info = %+v", rolledBack)
	}
	if formatCalled.Load() {
		t.Fatal("steps after the failed one must not run")
	}
	if v, ok := chain.Store().Get("double"); !ok || v != 20 {
		t.Fatalf("store[double] = %v, %v", v, ok)
	}
	if _, ok := chain.Store().Get("add3"); ok {
		t.Fatal("failed step must not be stored")
	}
}

func TestJobChain_FirstStepFailureIsJobFailed(t *testing.T) {
	var rollbacks atomic.Int32
	chain := NewJobChain("pipeline", nil, WithRollback(func(ctx context.Context, failed StepInfo) error {
		rollbacks.Add(1)
		return nil
	}))
	buildChain(t, chain, "double", failing("bad input"), "add3", add3)

	out, err := chain.Execute(context.Background(), 10)

	if out != nil {
		t.Fatalf("Outcome = %+v, want nil", out)
	}
	var jobErr *JobFailedError
	if !errors.As(err, &jobErr) || jobErr.Step != "double" || jobErr.Chain != "pipeline" {
		t.Fatalf("err = %v, want JobFailedError for double", err)
	}
	if !errors.Is(err, ErrJobFailed) {
		t.Fatal("err should match ErrJobFailed")
	}
	if rollbacks.Load() != 1 {
		t.Fatalf("rollback calls = %d, want 1", rollbacks.Load())
	}
}

func TestJobChain_RollbackErrorsAndPanicsAreSwallowed(t *testing.T) {
	hooks := map[string]RollbackHook{
		"error": func(ctx context.Context, failed StepInfo) error { return errors.New("cannot undo") },
		"panic": func(ctx context.Context, failed StepInfo) error { panic("rollback blew up") },
	}
	for name, hook := range hooks {
		t.Run(name, func(t *testing.T) {
			chain := NewJobChain("pipeline", nil, WithRollback(hook))
			buildChain(t, chain, "double", double, "add3", failing("boom"))

			out, err := chain.Execute(context.Background(), 4)
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			if !out.Partial || out.Value != 8 {
				t.Fatalf("Outcome = %+v, want partial 8", out)
			}
		})
	}
}

func TestJobChain_BoundArgsFollowInput(t *testing.T) {
	chain := NewJobChain("scale", nil)
	err := chain.AddFunc("scale", func(ctx context.Context, args Args) (any, error) {
		x, _ := Arg[int](args, 0)
		factor, _ := Arg[int](args, 1)
		offset, _ := NamedArgOr(args, "offset", 0)
		return x*factor + offset, nil
	}, NewArgs(5).With("offset", 1))
	if err != nil {
		t.Fatalf("AddFunc failed: %v", err)
	}

	out, err := chain.Execute(context.Background(), 3)
	if err != nil || out.Value != 16 {
		t.Fatalf("Execute = %+v, %v; want 16", out, err)
	}
}

func TestJobChain_Validation(t *testing.T) {
	chain := NewJobChain("", nil)
	if chain.Name() != "job" {
		t.Fatalf("default name = %q, want job", chain.Name())
	}

	if _, err := chain.Execute(context.Background(), 1); !errors.Is(err, ErrEmptyChain) {
		t.Fatalf("empty Execute error = %v, want ErrEmptyChain", err)
	}
	if err := chain.AddStep("", InvokerFunc(double), Args{}); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("empty name error = %v", err)
	}
	if err := chain.AddStep("double", nil, Args{}); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("nil step error = %v", err)
	}
	if err := chain.AddFunc("double", double, Args{}); err != nil {
		t.Fatalf("AddFunc failed: %v", err)
	}
	if err := chain.AddFunc("double", double, Args{}); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("duplicate step error = %v", err)
	}
	if steps := chain.Steps(); len(steps) != 1 || steps[0].Name != "double" {
		t.Fatalf("Steps = %+v", steps)
	}
}

func TestJobChain_RejectsChangesWhileRunning(t *testing.T) {
	chain := NewJobChain("pipeline", nil)
	started := make(chan struct{})
	release := make(chan struct{})
	_ = chain.AddFunc("block", func(ctx context.Context, args Args) (any, error) {
		close(started)
		<-release
		return args.Positional[0], nil
	}, Args{})

	done := make(chan error, 1)
	go func() {
		_, err := chain.Execute(context.Background(), 1)
		done <- err
	}()
	<-started

	if err := chain.AddFunc("late", add3, Args{}); !errors.Is(err, ErrChainRunning) {
		t.Fatalf("AddFunc during run error = %v, want ErrChainRunning", err)
	}
	if _, err := chain.Execute(context.Background(), 2); !errors.Is(err, ErrChainRunning) {
		t.Fatalf("concurrent Execute error = %v, want ErrChainRunning", err)
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not finish")
	}

	if err := chain.AddFunc("late", add3, Args{}); err != nil {
		t.Fatalf("AddFunc after run failed: %v", err)
	}
}

func TestJobChain_StepRetry(t *testing.T) {
	var calls atomic.Int32
	chain := NewJobChain("pipeline", nil, WithStepRetry(RetryPolicy{MaxRetries: 2}))
	_ = chain.AddFunc("flaky", func(ctx context.Context, args Args) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, Args{})

	out, err := chain.Execute(context.Background(), nil)
	if err != nil || out.Value != "ok" {
		t.Fatalf("Execute = %+v, %v", out, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

// TestJobChain_RoutedSteps verifies chains can route steps through a TaskRouter
// Given: A router with double and add3 registered and a chain using router.Invoker
// When: Execute runs with input 10
// Then: The chain completes and the router records history for each step
func TestJobChain_RoutedSteps(t *testing.T) {
	// Arrange
	router := newTestRouter(t)
	_ = router.RegisterFunc("double", double)
	_ = router.RegisterFunc("add3", add3)

	store := NewPartialResultStore()
	chain := NewJobChain("routed", store)
	for _, name := range []string{"double", "add3"} {
		if err := chain.AddStep(name, router.Invoker(name), Args{}); err != nil {
			t.Fatalf("AddStep(%s) failed: %v", name, err)
		}
	}

	// Act
	out, err := chain.Execute(context.Background(), 10)

	// Assert
	if err != nil || out.Value != 23 {
		t.Fatalf("Execute = %+v, %v; want 23", out, err)
	}
	if len(router.GetHistory("double")) != 1 || len(router.GetHistory("add3")) != 1 {
		t.Fatal("router should record one history entry per routed step")
	}
	if store.Len() != 2 {
		t.Fatalf("shared store Len = %d, want 2", store.Len())
	}
}
