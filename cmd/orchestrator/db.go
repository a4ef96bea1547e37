package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/Swind/go-task-orchestrator/core"
	"github.com/Swind/go-task-orchestrator/dbops"
)

func dbCommand() *cli.Command {
	tableFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "table", Aliases: []string{"t"}, Required: true, Usage: "Target table"}
	}

	return &cli.Command{
		Name:  "db",
		Usage: "Run schema maintenance tasks through the router",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection string (overrides database.url)",
				EnvVars: []string{"DATABASE_URL"},
			},
		},

		Subcommands: []*cli.Command{
			{
				Name:  "shard",
				Usage: "Create table_KEY with the structure of table",
				Flags: []cli.Flag{
					tableFlag(),
					&cli.StringFlag{Name: "key", Required: true, Usage: "Shard key"},
				},
				Action: func(c *cli.Context) error {
					return routeDBTask(c, dbops.TaskShardTable, core.Args{}.
						With("table", c.String("table")).
						With("shard_key", c.String("key")))
				},
			},
			{
				Name:  "index",
				Usage: "Create an index on table(column)",
				Flags: []cli.Flag{
					tableFlag(),
					&cli.StringFlag{Name: "name", Required: true, Usage: "Index name"},
					&cli.StringFlag{Name: "column", Required: true, Usage: "Column to index"},
				},
				Action: func(c *cli.Context) error {
					return routeDBTask(c, dbops.TaskCreateIndex, core.Args{}.
						With("table", c.String("table")).
						With("index", c.String("name")).
						With("column", c.String("column")))
				},
			},
			{
				Name:  "partition",
				Usage: "Create the list partition table_pKEY",
				Flags: []cli.Flag{
					tableFlag(),
					&cli.StringFlag{Name: "key", Required: true, Usage: "Partition key value"},
				},
				Action: func(c *cli.Context) error {
					return routeDBTask(c, dbops.TaskCreatePartition, core.Args{}.
						With("table", c.String("table")).
						With("partition_key", c.String("key")))
				},
			},
		},
	}
}

func routeDBTask(c *cli.Context, task string, args core.Args) error {
	rt, err := startRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	url := c.String("database-url")
	if url == "" {
		url = rt.Config().Database.URL
	}
	if url == "" {
		return cli.Exit("database url is required (--database-url or database.url)", 1)
	}

	pool, err := pgxpool.New(c.Context, url)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to connect: %v", err), 1)
	}
	defer pool.Close()

	op := dbops.NewTxOperation(pool, dbops.WithLogger(rt.Logger()))
	if err := dbops.RegisterTasks(rt.Router(), op); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	result, err := rt.Router().Route(c.Context, task, args)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	fmt.Fprintf(c.App.Writer, "✓ Success: %v\n", result)
	return nil
}
