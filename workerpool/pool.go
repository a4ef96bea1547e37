package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-task-orchestrator/core"
)

// ErrPoolClosed is returned, tagged terminal, for submissions after Stop and
// for jobs still queued when the pool stops.
var ErrPoolClosed = errors.New("workerpool: pool is closed")

// Func is the unit of work executed by a worker.
type Func func(ctx context.Context) (any, error)

type result struct {
	value any
	err   error
}

type job struct {
	ctx    context.Context
	traits TaskTraits
	fn     Func
	done   chan result
}

// Pool manages a fixed set of worker goroutines pulling jobs from a priority
// queue. It backs the task executor capability: a routed task can hand its
// work to the pool through Invoker.
type Pool struct {
	id      string
	workers int
	queue   *jobQueue
	signal  chan struct{}
	logger  core.Logger
	metrics core.Metrics

	queued atomic.Int32 // Waiting in queue
	active atomic.Int32 // Executing in worker

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	runningMu sync.RWMutex
	running   bool
	closed    bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l core.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the sink receiving queue depth updates.
func WithMetrics(m core.Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a stopped pool with the given number of workers.
func New(id string, workers int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: workers must be positive, got %d", core.ErrInvalidConcurrency, workers)
	}
	p := &Pool{
		id:      id,
		workers: workers,
		queue:   newJobQueue(),
		signal:  make(chan struct{}, workers*2),
		logger:  core.NewNoOpLogger(),
		metrics: &core.NilMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ID returns the ID of the pool
func (p *Pool) ID() string {
	return p.id
}

// Start starts all worker goroutines. Starting a running or stopped pool does nothing.
func (p *Pool) Start(ctx context.Context) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	if p.running || p.closed {
		return
	}

	var workerCtx context.Context
	workerCtx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(workerCtx)
	}
	p.logger.Info("Worker pool started", core.F("pool", p.id), core.F("workers", p.workers))
}

// Stop stops the workers, waits for running jobs and fails every queued job
// with ErrPoolClosed. The pool cannot be restarted.
func (p *Pool) Stop() {
	p.runningMu.Lock()
	if p.closed {
		p.runningMu.Unlock()
		return
	}
	p.closed = true
	p.running = false
	cancel := p.cancel
	p.runningMu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	dropped := p.queue.drain()
	for _, j := range dropped {
		p.queued.Add(-1)
		j.done <- result{err: core.Terminal(ErrPoolClosed)}
	}
	p.metrics.RecordQueueDepth(p.id, 0)
	p.logger.Info("Worker pool stopped", core.F("pool", p.id), core.F("dropped", len(dropped)))
}

// Submit queues fn and waits for its result. It returns ctx.Err() when ctx
// ends first; a job whose context ended before a worker picked it up is skipped.
func (p *Pool) Submit(ctx context.Context, traits TaskTraits, fn Func) (any, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil job submitted to pool %s", core.ErrInvalidTask, p.id)
	}
	j := &job{ctx: ctx, traits: traits, fn: fn, done: make(chan result, 1)}

	p.runningMu.RLock()
	if p.closed {
		p.runningMu.RUnlock()
		return nil, core.Terminal(ErrPoolClosed)
	}
	p.queue.push(j)
	depth := p.queued.Add(1)
	p.runningMu.RUnlock()

	p.metrics.RecordQueueDepth(p.id, int(depth))
	select {
	case p.signal <- struct{}{}:
	default:
		// Signal channel full, but the job is already queued
	}

	select {
	case r := <-j.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invoker wraps inv so every invocation runs on pool with traits.
func Invoker(pool *Pool, traits TaskTraits, inv core.Invoker) core.Invoker {
	return core.InvokerFunc(func(ctx context.Context, args core.Args) (any, error) {
		return pool.Submit(ctx, traits, func(ctx context.Context) (any, error) {
			return inv.Invoke(ctx, args)
		})
	})
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() core.PoolStats {
	p.runningMu.RLock()
	running := p.running
	p.runningMu.RUnlock()

	return core.PoolStats{
		ID:      p.id,
		Workers: p.workers,
		Queued:  int(p.queued.Load()),
		Active:  int(p.active.Load()),
		Running: running,
	}
}

// workerLoop is the main loop for each worker
func (p *Pool) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	stopCh := ctx.Done()

	for {
		j, ok := p.getWork(stopCh)
		if !ok {
			return
		}
		p.run(j)
	}
}

func (p *Pool) getWork(stopCh <-chan struct{}) (*job, bool) {
	for {
		if j, ok := p.queue.pop(); ok {
			depth := p.queued.Add(-1)
			p.metrics.RecordQueueDepth(p.id, int(depth))
			return j, true
		}

		select {
		case <-p.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

func (p *Pool) run(j *job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- result{err: err}
		return
	}

	p.active.Add(1)
	defer p.active.Add(-1)

	value, err := func() (value any, err error) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Job panicked", core.F("pool", p.id), core.F("panic", r))
				value, err = nil, fmt.Errorf("workerpool %s: panic: %v", p.id, r)
			}
		}()
		return j.fn(j.ctx)
	}()
	j.done <- result{value: value, err: err}
}
