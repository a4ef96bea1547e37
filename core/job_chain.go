package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// JobChain Data Models
// =============================================================================

// JobStep is one stage of a JobChain: an implementation plus the arguments
// bound when the step was added.
type JobStep struct {
	Name    string
	Invoker Invoker
	Args    Args
}

// StepInfo identifies the step passed to a RollbackHook.
type StepInfo struct {
	Chain string
	RunID uuid.UUID
	Name  string
	Index int
	Cause error
}

// RollbackHook is a best-effort compensating action run once, synchronously,
// when a step fails. Its errors and panics are logged and never returned to
// the caller of Execute.
type RollbackHook func(ctx context.Context, failed StepInfo) error

// Outcome is the result of a JobChain run that produced a usable value.
//
// A complete run has Partial == false and Value set to the last step's output.
// A partial run (PartialSuccess) has Partial == true, Value set to the output
// of RecoveredFrom, and FailedStep/Cause describing the step that failed.
type Outcome struct {
	RunID         uuid.UUID
	Value         any
	Partial       bool
	Completed     int
	FailedStep    string
	RecoveredFrom string
	Cause         error
	Duration      time.Duration
}

// =============================================================================
// JobChain
// =============================================================================

// JobChain executes an ordered list of steps, feeding each step's output to
// the next one. Steps never run in parallel.
type JobChain struct {
	name  string
	store *PartialResultStore

	mu      sync.Mutex
	steps   []JobStep
	names   map[string]struct{}
	running bool

	rollback    RollbackHook
	stepRetry   RetryPolicy
	logger      Logger
	metrics     Metrics
	generateID  func() uuid.UUID
	currentTime func() time.Time
}

// ChainOption configures a JobChain.
type ChainOption func(*JobChain)

// WithRollback sets the hook invoked when a step fails.
func WithRollback(hook RollbackHook) ChainOption {
	return func(c *JobChain) { c.rollback = hook }
}

// WithStepRetry sets the retry policy applied to every step invocation.
// Steps that route through a TaskRouter are already retried there.
func WithStepRetry(p RetryPolicy) ChainOption {
	return func(c *JobChain) { c.stepRetry = p }
}

// WithChainLogger sets the chain logger.
func WithChainLogger(l Logger) ChainOption {
	return func(c *JobChain) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithChainMetrics sets the metrics sink for chain outcomes.
func WithChainMetrics(m Metrics) ChainOption {
	return func(c *JobChain) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewJobChain creates an empty chain writing partial results into store.
// A nil store gets a private one.
func NewJobChain(name string, store *PartialResultStore, opts ...ChainOption) *JobChain {
	if store == nil {
		store = NewPartialResultStore()
	}
	if name == "" {
		name = "job"
	}
	c := &JobChain{
		name:        name,
		store:       store,
		names:       make(map[string]struct{}),
		stepRetry:   NoRetry(),
		logger:      NewNoOpLogger(),
		metrics:     &NilMetrics{},
		generateID:  uuid.New,
		currentTime: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the chain name.
func (c *JobChain) Name() string {
	return c.name
}

// Store returns the partial result store the chain writes into.
func (c *JobChain) Store() *PartialResultStore {
	return c.store
}

// AddStep appends a step. Step names must be unique within the chain; they
// key the partial results.
func (c *JobChain) AddStep(name string, impl Invoker, bound Args) error {
	if name == "" {
		return fmt.Errorf("%w: empty step name", ErrInvalidStep)
	}
	if impl == nil {
		return fmt.Errorf("%w: nil implementation for step %s", ErrInvalidStep, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrChainRunning
	}
	if _, dup := c.names[name]; dup {
		return fmt.Errorf("%w: duplicate step name %s", ErrInvalidStep, name)
	}
	c.names[name] = struct{}{}
	c.steps = append(c.steps, JobStep{Name: name, Invoker: impl, Args: bound})
	return nil
}

// AddFunc is AddStep for a plain function.
func (c *JobChain) AddFunc(name string, fn func(ctx context.Context, args Args) (any, error), bound Args) error {
	if fn == nil {
		return fmt.Errorf("%w: nil implementation for step %s", ErrInvalidStep, name)
	}
	return c.AddStep(name, InvokerFunc(fn), bound)
}

// Steps returns a copy of the step list in execution order.
func (c *JobChain) Steps() []JobStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]JobStep(nil), c.steps...)
}

// Execute runs the steps in order, starting with input.
//
// On success it returns the last step's output. When a step fails the
// rollback hook runs, then the nearest earlier step's stored output is
// returned as a partial Outcome with a nil error. If there is none, Execute
// returns a JobFailedError.
func (c *JobChain) Execute(ctx context.Context, input any) (*Outcome, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrChainRunning
	}
	if len(c.steps) == 0 {
		c.mu.Unlock()
		return nil, ErrEmptyChain
	}
	c.running = true
	steps := append([]JobStep(nil), c.steps...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	runID := c.generateID()
	startedAt := c.currentTime()
	c.logger.Info("Job started",
		F("chain", c.name),
		F("runID", runID),
		F("steps", len(steps)))

	value := input
	for i, step := range steps {
		out, err := c.runStep(ctx, runID, step, value)
		if err != nil {
			return c.fallback(ctx, runID, steps, i, err, startedAt)
		}
		c.store.Put(step.Name, out)
		c.logger.Debug("Stored partial result",
			F("chain", c.name),
			F("runID", runID),
			F("step", step.Name))
		value = out
	}

	duration := c.currentTime().Sub(startedAt)
	c.metrics.RecordChainOutcome(c.name, ChainCompleted)
	c.logger.Info("Job completed successfully",
		F("chain", c.name),
		F("runID", runID),
		F("duration", duration))
	return &Outcome{
		RunID:     runID,
		Value:     value,
		Completed: len(steps),
		Duration:  duration,
	}, nil
}

func (c *JobChain) runStep(ctx context.Context, runID uuid.UUID, step JobStep, input any) (any, error) {
	args := step.Args.Prepend(input)

	var out any
	attempts, err := c.stepRetry.run(ctx, step.Name, c.logger, c.metrics, func(ctx context.Context) error {
		result, err := invokeSafely(ctx, step.Invoker, args)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	if err != nil {
		c.logger.Error("Step failed",
			F("chain", c.name),
			F("runID", runID),
			F("step", step.Name),
			F("attempts", attempts),
			F("error", err))
		return nil, err
	}
	return out, nil
}

// fallback runs the rollback hook and falls back to the last stored output.
func (c *JobChain) fallback(
	ctx context.Context,
	runID uuid.UUID,
	steps []JobStep,
	failed int,
	cause error,
	startedAt time.Time,
) (*Outcome, error) {
	info := StepInfo{
		Chain: c.name,
		RunID: runID,
		Name:  steps[failed].Name,
		Index: failed,
		Cause: cause,
	}
	c.runRollback(ctx, info)

	for j := failed - 1; j >= 0; j-- {
		value, ok := c.store.Get(steps[j].Name)
		if !ok {
			continue
		}
		c.metrics.RecordChainOutcome(c.name, ChainPartial)
		c.logger.Warn("Continuing with partial results",
			F("chain", c.name),
			F("runID", runID),
			F("failedStep", info.Name),
			F("recoveredFrom", steps[j].Name))
		return &Outcome{
			RunID:         runID,
			Value:         value,
			Partial:       true,
			Completed:     failed,
			FailedStep:    info.Name,
			RecoveredFrom: steps[j].Name,
			Cause:         cause,
			Duration:      c.currentTime().Sub(startedAt),
		}, nil
	}

	c.metrics.RecordChainOutcome(c.name, ChainFailed)
	c.logger.Error("Job failed and no partial results are available",
		F("chain", c.name),
		F("runID", runID),
		F("failedStep", info.Name))
	return nil, &JobFailedError{Chain: c.name, Step: info.Name, Cause: cause}
}

func (c *JobChain) runRollback(ctx context.Context, info StepInfo) {
	if c.rollback == nil {
		return
	}
	c.logger.Info("Rolling back changes",
		F("chain", info.Chain),
		F("runID", info.RunID),
		F("step", info.Name))

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Rollback panicked",
				F("chain", info.Chain),
				F("step", info.Name),
				F("panic", rec))
		}
	}()
	if err := c.rollback(ctx, info); err != nil {
		c.logger.Warn("Rollback failed",
			F("chain", info.Chain),
			F("step", info.Name),
			F("error", err))
	}
}
