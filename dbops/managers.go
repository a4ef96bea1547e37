package dbops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Swind/go-task-orchestrator/core"
)

// ErrInvalidIdentifier is returned for empty table, index, column or key names.
var ErrInvalidIdentifier = errors.New("dbops: invalid identifier")

// =============================================================================
// Identifier helpers
// =============================================================================

// qualified splits a possibly schema-qualified name into a pgx.Identifier.
func qualified(name string) (pgx.Identifier, error) {
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if p == "" {
			return nil, core.Terminal(fmt.Errorf("%w: %q", ErrInvalidIdentifier, name))
		}
	}
	return pgx.Identifier(parts), nil
}

// suffixed appends suffix to the last part of id, keeping the schema.
func suffixed(id pgx.Identifier, suffix string) pgx.Identifier {
	out := append(pgx.Identifier(nil), id...)
	out[len(out)-1] += suffix
	return out
}

func requireNonEmpty(kind, value string) error {
	if value == "" {
		return core.Terminal(fmt.Errorf("%w: empty %s", ErrInvalidIdentifier, kind))
	}
	return nil
}

func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// =============================================================================
// ShardingManager
// =============================================================================

// ShardingManager creates per-key copies of a table.
type ShardingManager struct {
	op Operation
}

func NewShardingManager(op Operation) *ShardingManager {
	return &ShardingManager{op: op}
}

// CreateShard creates table_key with the structure of table.
func (m *ShardingManager) CreateShard(ctx context.Context, table, shardKey string) (string, error) {
	source, err := qualified(table)
	if err != nil {
		return "", err
	}
	if err := requireNonEmpty("shard key", shardKey); err != nil {
		return "", err
	}
	shard := suffixed(source, "_"+shardKey)

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (LIKE %s INCLUDING ALL)", shard.Sanitize(), source.Sanitize())
	if _, err := m.op.Execute(ctx, stmt); err != nil {
		return "", fmt.Errorf("creating shard %s: %w", shard.Sanitize(), err)
	}
	return fmt.Sprintf("Shard %s created.", strings.Join(shard, ".")), nil
}

// =============================================================================
// IndexingManager
// =============================================================================

// IndexingManager creates single-column indexes.
type IndexingManager struct {
	op Operation
}

func NewIndexingManager(op Operation) *IndexingManager {
	return &IndexingManager{op: op}
}

// CreateIndex creates index on table(column) unless it already exists.
func (m *IndexingManager) CreateIndex(ctx context.Context, table, index, column string) (string, error) {
	target, err := qualified(table)
	if err != nil {
		return "", err
	}
	if err := requireNonEmpty("index name", index); err != nil {
		return "", err
	}
	if err := requireNonEmpty("column", column); err != nil {
		return "", err
	}

	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		pgx.Identifier{index}.Sanitize(), target.Sanitize(), pgx.Identifier{column}.Sanitize())
	if _, err := m.op.Execute(ctx, stmt); err != nil {
		return "", fmt.Errorf("creating index %s: %w", index, err)
	}
	return fmt.Sprintf("Index %s created on %s(%s).", index, table, column), nil
}

// =============================================================================
// PartitioningManager
// =============================================================================

// PartitioningManager creates list partitions of a partitioned table.
type PartitioningManager struct {
	op Operation
}

func NewPartitioningManager(op Operation) *PartitioningManager {
	return &PartitioningManager{op: op}
}

// CreatePartition creates table_pKEY holding the rows whose partition column
// equals key.
func (m *PartitioningManager) CreatePartition(ctx context.Context, table, partitionKey string) (string, error) {
	parent, err := qualified(table)
	if err != nil {
		return "", err
	}
	if err := requireNonEmpty("partition key", partitionKey); err != nil {
		return "", err
	}
	partition := suffixed(parent, "_p"+partitionKey)

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES IN (%s)",
		partition.Sanitize(), parent.Sanitize(), quoteLiteral(partitionKey))
	if _, err := m.op.Execute(ctx, stmt); err != nil {
		return "", fmt.Errorf("creating partition %s: %w", partition.Sanitize(), err)
	}
	return fmt.Sprintf("Partition %s created.", strings.Join(partition, ".")), nil
}
