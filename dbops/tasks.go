package dbops

import (
	"context"

	"github.com/Swind/go-task-orchestrator/core"
)

// Routed task names.
const (
	TaskShardTable      = "shard_table"
	TaskCreateIndex     = "create_index"
	TaskCreatePartition = "create_partition"
)

// RegisterTasks registers the schema maintenance tasks on router. Each task
// reads its inputs from named arguments:
//
//	shard_table:      table, shard_key
//	create_index:     table, index, column
//	create_partition: table, partition_key
func RegisterTasks(router *core.TaskRouter, op Operation) error {
	sharding := NewShardingManager(op)
	indexing := NewIndexingManager(op)
	partitioning := NewPartitioningManager(op)

	tasks := map[string]func(ctx context.Context, args core.Args) (any, error){
		TaskShardTable: func(ctx context.Context, args core.Args) (any, error) {
			table, key, err := twoNamed(args, "table", "shard_key")
			if err != nil {
				return nil, err
			}
			return sharding.CreateShard(ctx, table, key)
		},
		TaskCreateIndex: func(ctx context.Context, args core.Args) (any, error) {
			table, index, err := twoNamed(args, "table", "index")
			if err != nil {
				return nil, err
			}
			column, err := core.NamedArg[string](args, "column")
			if err != nil {
				return nil, core.Terminal(err)
			}
			return indexing.CreateIndex(ctx, table, index, column)
		},
		TaskCreatePartition: func(ctx context.Context, args core.Args) (any, error) {
			table, key, err := twoNamed(args, "table", "partition_key")
			if err != nil {
				return nil, err
			}
			return partitioning.CreatePartition(ctx, table, key)
		},
	}

	for _, name := range []string{TaskShardTable, TaskCreateIndex, TaskCreatePartition} {
		if err := router.RegisterFunc(name, tasks[name]); err != nil {
			return err
		}
	}
	return nil
}

func twoNamed(args core.Args, first, second string) (string, string, error) {
	a, err := core.NamedArg[string](args, first)
	if err != nil {
		return "", "", core.Terminal(err)
	}
	b, err := core.NamedArg[string](args, second)
	if err != nil {
		return "", "", core.Terminal(err)
	}
	return a, b, nil
}
