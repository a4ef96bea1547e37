// Command orchestrator runs the batch, file-processing and schema
// maintenance workloads on the orchestration runtime.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	orchestrator "github.com/Swind/go-task-orchestrator"
	"github.com/Swind/go-task-orchestrator/config"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "orchestrator",
		Usage:  "Route tasks and run job chains",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"ORCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address",
			},
		},
		Commands: []*cli.Command{
			batchCommand(),
			filesCommand(),
			dbCommand(),
		},
	}
}

// loadConfig reads the configuration file and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if addr := c.String("metrics-addr"); addr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = addr
	}
	return cfg, nil
}

// startRuntime builds and starts a runtime from the command context. The
// caller closes it.
func startRuntime(c *cli.Context) (*orchestrator.Runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Failed to load configuration: %v", err), 1)
	}
	rt, err := orchestrator.NewRuntime(cfg)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Failed to build runtime: %v", err), 1)
	}
	if err := rt.Start(c.Context); err != nil {
		return nil, cli.Exit(fmt.Sprintf("Failed to start runtime: %v", err), 1)
	}
	return rt, nil
}
