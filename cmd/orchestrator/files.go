package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-task-orchestrator/core"
	"github.com/Swind/go-task-orchestrator/workerpool"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}

func filesCommand() *cli.Command {
	return &cli.Command{
		Name:      "files",
		Usage:     "Scan, resize and extract metadata from uploaded files",
		ArgsUsage: "PATH...",

		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "work",
				Value: 100 * time.Millisecond,
				Usage: "Simulated base processing time per task",
			},
			&cli.StringFlag{
				Name:  "size",
				Value: "800x600",
				Usage: "Target size for images",
			},
		},

		Action: filesAction,
	}
}

type fileJob struct {
	task string
	args core.Args
}

func filesAction(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return cli.Exit("at least one PATH is required", 1)
	}

	rt, err := startRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	work := c.Duration("work")
	tasks := map[string]struct {
		cost   float64
		traits workerpool.TaskTraits
		run    func(path string, args core.Args) string
	}{
		"virus_scan": {2, workerpool.TraitsUserBlocking(), func(path string, args core.Args) string {
			return "Virus scan completed for " + path
		}},
		"resize_image": {1, workerpool.TraitsUserVisible(), func(path string, args core.Args) string {
			size, _ := core.NamedArgOr(args, "size", "800x600")
			return fmt.Sprintf("Image %s resized to %s", path, size)
		}},
		"extract_metadata": {1.5, workerpool.TraitsBestEffort(), func(path string, args core.Args) string {
			return "Metadata extracted from " + path
		}},
	}
	for _, name := range []string{"virus_scan", "resize_image", "extract_metadata"} {
		spec := tasks[name]
		err := rt.RegisterTaskWithTraits(name, spec.traits, core.InvokerFunc(func(ctx context.Context, args core.Args) (any, error) {
			path, err := core.Arg[string](args, 0)
			if err != nil {
				return nil, core.Terminal(err)
			}
			select {
			case <-time.After(time.Duration(spec.cost * float64(work))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return spec.run(path, args), nil
		}))
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
	}

	var jobs []fileJob
	for _, path := range paths {
		jobs = append(jobs, fileJob{task: "virus_scan", args: core.NewArgs(path)})
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			jobs = append(jobs, fileJob{task: "resize_image", args: core.NewArgs(path).With("size", c.String("size"))})
		}
		jobs = append(jobs, fileJob{task: "extract_metadata", args: core.NewArgs(path)})
	}

	results := make([]any, len(jobs))
	g, ctx := errgroup.WithContext(c.Context)
	for i, job := range jobs {
		g.Go(func() error {
			result, err := rt.Router().Route(ctx, job.task, job.args)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	for _, result := range results {
		fmt.Fprintln(c.App.Writer, result)
	}
	for _, name := range []string{"virus_scan", "resize_image", "extract_metadata"} {
		rec := rt.Router().Metrics(name)
		fmt.Fprintf(c.App.Writer, "%s: %d recent runs, last exec time %v, errors %d\n",
			name, len(rt.Router().GetHistory(name)), rec.ExecTime.Round(time.Millisecond), rec.ErrorCount)
	}
	return nil
}
