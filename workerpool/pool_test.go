package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-task-orchestrator/core"
)

func newStartedPool(t *testing.T, workers int) *Pool {
	t.Helper()
	p, err := New("test-pool", workers)
	require.NoError(t, err)
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func TestNew_RejectsNonPositiveWorkers(t *testing.T) {
	_, err := New("bad", 0)
	assert.ErrorIs(t, err, core.ErrInvalidConcurrency)
}

func TestPool_SubmitReturnsResult(t *testing.T) {
	p := newStartedPool(t, 2)

	got, err := p.Submit(context.Background(), DefaultTaskTraits(), func(ctx context.Context) (any, error) {
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestPool_SubmitPropagatesErrorAndPanic(t *testing.T) {
	p := newStartedPool(t, 1)
	boom := errors.New("boom")

	_, err := p.Submit(context.Background(), DefaultTaskTraits(), func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = p.Submit(context.Background(), DefaultTaskTraits(), func(ctx context.Context) (any, error) {
		panic("worker explodes")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker explodes")

	// the worker survives the panic
	got, err := p.Submit(context.Background(), DefaultTaskTraits(), func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestPool_SubmitNilFunc(t *testing.T) {
	p := newStartedPool(t, 1)
	_, err := p.Submit(context.Background(), DefaultTaskTraits(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidTask)
}

// TestPool_PriorityOrder verifies higher priority jobs run first
// Given: A single-worker pool with three jobs queued before it starts
// When: The pool starts
// Then: Jobs run UserBlocking, UserVisible, BestEffort
func TestPool_PriorityOrder(t *testing.T) {
	// Arrange
	p, err := New("ordered", 1)
	require.NoError(t, err)
	t.Cleanup(p.Stop)

	var mu sync.Mutex
	var order []TaskPriority
	var wg sync.WaitGroup
	for _, traits := range []TaskTraits{TraitsBestEffort(), TraitsUserVisible(), TraitsUserBlocking()} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), traits, func(ctx context.Context) (any, error) {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, traits.Priority)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return p.Stats().Queued == 3 }, time.Second, time.Millisecond)

	// Act
	p.Start(context.Background())
	wg.Wait()

	// Assert
	assert.Equal(t, []TaskPriority{TaskPriorityUserBlocking, TaskPriorityUserVisible, TaskPriorityBestEffort}, order)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p, err := New("closed", 1)
	require.NoError(t, err)
	p.Start(context.Background())
	p.Stop()

	_, err = p.Submit(context.Background(), DefaultTaskTraits(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.False(t, p.Stats().Running)

	p.Stop() // idempotent
}

func TestPool_StopFailsQueuedJobs(t *testing.T) {
	p, err := New("never-started", 1)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), DefaultTaskTraits(), func(ctx context.Context) (any, error) {
			return "unreachable", nil
		})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Queued == 1 }, time.Second, time.Millisecond)

	p.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("queued Submit did not return after Stop")
	}
	assert.Equal(t, 0, p.Stats().Queued)
}

func TestPool_SubmitHonorsContext(t *testing.T) {
	p := newStartedPool(t, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = p.Submit(context.Background(), DefaultTaskTraits(), func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := make(chan struct{}, 1)
	_, err := p.Submit(ctx, DefaultTaskTraits(), func(ctx context.Context) (any, error) {
		ran <- struct{}{}
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool { return p.Stats().Queued == 0 && p.Stats().Active == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, ran, "a job whose context ended while queued must be skipped")
}

func TestPool_Stats(t *testing.T) {
	p := newStartedPool(t, 3)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Submit(context.Background(), DefaultTaskTraits(), func(ctx context.Context) (any, error) {
				<-release
				return nil, nil
			})
		}()
	}

	require.Eventually(t, func() bool { return p.Stats().Active == 2 }, time.Second, time.Millisecond)
	stats := p.Stats()
	assert.Equal(t, "test-pool", stats.ID)
	assert.Equal(t, 3, stats.Workers)
	assert.True(t, stats.Running)

	close(release)
	wg.Wait()
}

func TestInvoker_RoutesThroughPool(t *testing.T) {
	p := newStartedPool(t, 2)
	router, err := core.NewTaskRouter(core.WithRetryPolicy(core.NoRetry()))
	require.NoError(t, err)

	scan := core.InvokerFunc(func(ctx context.Context, args core.Args) (any, error) {
		path, err := core.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return "Scanned " + path + ": no virus", nil
	})
	require.NoError(t, router.RegisterTask("virus_scan", Invoker(p, TraitsUserBlocking(), scan)))

	got, err := router.Route(context.Background(), "virus_scan", core.NewArgs("/path/to/file1"))
	require.NoError(t, err)
	assert.Equal(t, "Scanned /path/to/file1: no virus", got)
	assert.Len(t, router.GetHistory("virus_scan"), 1)
}
