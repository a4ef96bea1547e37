// Package orchestrator provides an in-process task orchestration core for Go.
//
// Independent units of work are routed by name to the best-scoring registered
// implementation under a concurrency cap (TaskRouter). Dependent units of work
// are sequenced into a pipeline that keeps partial progress when a step fails
// (JobChain). Failures are retried a bounded number of times with a fixed
// delay (RetryPolicy).
//
// # Quick Start
//
// Build a Runtime from configuration and start it:
//
//	rt, err := orchestrator.NewRuntime(config.Default())
//	if err != nil {
//		return err
//	}
//	rt.Start(ctx)
//	defer rt.Close(ctx)
//
// Register tasks; each invocation runs on the runtime's worker pool:
//
//	rt.RegisterTask("virus_scan", core.InvokerFunc(scan))
//	result, err := rt.Router().Route(ctx, "virus_scan", core.NewArgs("/path/to/file1"))
//
// Chain dependent steps:
//
//	chain := rt.NewJobChain("batch")
//	chain.AddFunc("double", double, core.Args{})
//	chain.AddFunc("add3", add3, core.Args{})
//	outcome, err := chain.Execute(ctx, 10)
//
// # Key Concepts
//
// TaskRouter: Selects the candidate with the lowest score
// (priority * execTime + 2 * errorCount), waits for a concurrency slot and
// invokes it through the retry policy. The last ten results per task are kept.
//
// JobChain: Runs steps strictly in order, feeding each output to the next step.
// When a step fails the rollback hook runs and the nearest earlier stored output
// is returned as a partial Outcome.
//
// Runtime: Owns the router, worker pool, shared PartialResultStore, logger and
// Prometheus collectors. There is no global state; pass the Runtime explicitly.
package orchestrator
