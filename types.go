package orchestrator

import "github.com/Swind/go-task-orchestrator/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the orchestrator package for most use cases.

// Args carries positional and keyed invocation arguments
type Args = core.Args

// Invoker is one implementation of a task
type Invoker = core.Invoker

// InvokerFunc adapts a function to Invoker
type InvokerFunc = core.InvokerFunc

// TaskRouter routes named tasks to their best candidate
type TaskRouter = core.TaskRouter

// JobChain runs dependent steps in order
type JobChain = core.JobChain

// Outcome is the result of a JobChain run
type Outcome = core.Outcome

// RetryPolicy bounds retries of a failed invocation
type RetryPolicy = core.RetryPolicy

// StepInfo describes the failed step passed to a rollback hook
type StepInfo = core.StepInfo

// HistoryEntry is one recorded successful invocation
type HistoryEntry = core.HistoryEntry

var (
	NewArgs            = core.NewArgs
	Terminal           = core.Terminal
	DefaultRetryPolicy = core.DefaultRetryPolicy
	NoRetry            = core.NoRetry
)

// Errors re-exported for errors.Is checks
var (
	ErrNoCandidates = core.ErrNoCandidates
	ErrTaskFailed   = core.ErrTaskFailed
	ErrJobFailed    = core.ErrJobFailed
)
