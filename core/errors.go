package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCandidates indicates no implementation is registered for a task name.
	ErrNoCandidates = errors.New("no candidates registered")

	// ErrTaskFailed indicates a routed task exhausted its retry budget.
	ErrTaskFailed = errors.New("task failed")

	// ErrJobFailed indicates a chain step failed and no partial result exists.
	ErrJobFailed = errors.New("job failed")

	ErrEmptyChain         = errors.New("job chain has no steps")
	ErrChainRunning       = errors.New("job chain is executing")
	ErrInvalidStep        = errors.New("invalid job step")
	ErrInvalidTask        = errors.New("invalid task registration")
	ErrInvalidConcurrency = errors.New("max concurrency must be greater than zero")
	ErrInvalidPriority    = errors.New("priority must be greater than zero")
	ErrArgument           = errors.New("invalid argument")
)

// =============================================================================
// Error kinds
// =============================================================================

// ErrorKind tells the retry policy whether a failure may be retried.
type ErrorKind int

const (
	// KindTransient failures are retried until the budget is exhausted.
	KindTransient ErrorKind = iota
	// KindTerminal failures stop the retry loop immediately.
	KindTerminal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal tags err so the retry policy surfaces it without further attempts.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// KindOf reports the kind of err. Untagged errors are transient.
func KindOf(err error) ErrorKind {
	var te *terminalError
	if errors.As(err, &te) {
		return KindTerminal
	}
	return KindTransient
}

// IsTerminal reports whether err was tagged with Terminal.
func IsTerminal(err error) bool {
	return KindOf(err) == KindTerminal
}

// =============================================================================
// Typed errors
// =============================================================================

// RoutingReason describes why a route could not be attempted.
type RoutingReason string

// NoCandidates is the reason used when a task name has no implementations.
const NoCandidates RoutingReason = "no_candidates"

// RoutingError is returned by Route before any invocation happens.
type RoutingError struct {
	Task   string
	Reason RoutingReason
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("route %s: %s", e.Task, e.Reason)
}

func (e *RoutingError) Is(target error) bool {
	return target == ErrNoCandidates && e.Reason == NoCandidates
}

// TaskFailedError is the terminal failure of a routed task.
type TaskFailedError struct {
	Task     string
	Attempts int
	Cause    error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", e.Task, e.Attempts, e.Cause)
}

func (e *TaskFailedError) Unwrap() error { return e.Cause }

func (e *TaskFailedError) Is(target error) bool { return target == ErrTaskFailed }

// JobFailedError is returned by JobChain.Execute when a step fails and no
// earlier step left a partial result.
type JobFailedError struct {
	Chain string
	Step  string
	Cause error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed at step %s: %v", e.Chain, e.Step, e.Cause)
}

func (e *JobFailedError) Unwrap() error { return e.Cause }

func (e *JobFailedError) Is(target error) bool { return target == ErrJobFailed }
