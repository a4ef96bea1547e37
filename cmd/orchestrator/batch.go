package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-task-orchestrator/core"
)

var batchSteps = []string{"double", "add3", "format"}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Run the double -> add3 -> format batch job",

		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Value:   10,
				Usage:   "Initial data to be processed",
			},
			&cli.StringFlag{
				Name:  "fail-step",
				Usage: "Make the named step fail to exercise rollback and partial results",
			},
		},

		Action: batchAction,
	}
}

func batchAction(c *cli.Context) error {
	failStep := c.String("fail-step")
	if failStep != "" && !slices.Contains(batchSteps, failStep) {
		return cli.Exit(fmt.Sprintf("unknown step %q", failStep), 1)
	}

	rt, err := startRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	logger := rt.Logger()
	chain := rt.NewJobChain("batch", core.WithRollback(func(ctx context.Context, failed core.StepInfo) error {
		logger.Error("Step failed. Executing rollback.", core.F("step", failed.Name))
		logger.Info("Rolling back changes...")
		return nil
	}))

	impls := map[string]func(ctx context.Context, args core.Args) (any, error){
		"double": func(ctx context.Context, args core.Args) (any, error) {
			x, err := core.Arg[int](args, 0)
			return x * 2, core.Terminal(err)
		},
		"add3": func(ctx context.Context, args core.Args) (any, error) {
			x, err := core.Arg[int](args, 0)
			return x + 3, core.Terminal(err)
		},
		"format": func(ctx context.Context, args core.Args) (any, error) {
			return fmt.Sprintf("Data stored: %v", args.Positional[0]), nil
		},
	}
	for _, name := range batchSteps {
		impl := impls[name]
		if name == failStep {
			impl = func(ctx context.Context, args core.Args) (any, error) {
				return nil, fmt.Errorf("step %s failed on purpose", name)
			}
		}
		if err := chain.AddFunc(name, impl, core.Args{}); err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
	}

	outcome, err := chain.Execute(c.Context, c.Int("input"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	fmt.Fprintf(c.App.Writer, "Final result of the batch job: %v\n", outcome.Value)
	if outcome.Partial {
		fmt.Fprintf(c.App.Writer, "Partial result recovered from %s after %s failed\n",
			outcome.RecoveredFrom, outcome.FailedStep)
	}
	return nil
}
