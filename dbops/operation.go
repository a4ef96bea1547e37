// Package dbops runs schema maintenance statements as routed tasks.
package dbops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Swind/go-task-orchestrator/core"
)

// ErrEmptyStatement is returned for blank statements.
var ErrEmptyStatement = errors.New("dbops: empty statement")

// DB is the minimal database interface operations depend on (pgxpool or pgxmock).
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Operation executes one statement and reports its command tag.
type Operation interface {
	Execute(ctx context.Context, statement string) (string, error)
}

// TxOperation runs every statement in its own transaction.
type TxOperation struct {
	db     DB
	logger core.Logger
}

// Option configures a TxOperation.
type Option func(*TxOperation)

// WithLogger sets the operation logger.
func WithLogger(l core.Logger) Option {
	return func(o *TxOperation) {
		if l != nil {
			o.logger = l
		}
	}
}

func NewTxOperation(db DB, opts ...Option) *TxOperation {
	o := &TxOperation{db: db, logger: core.NewNoOpLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs statement inside a transaction, committing on success and
// rolling back on any error. Blank statements fail terminally.
func (o *TxOperation) Execute(ctx context.Context, statement string) (tag string, err error) {
	if strings.TrimSpace(statement) == "" {
		return "", core.Terminal(ErrEmptyStatement)
	}

	tx, err := o.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				o.logger.Error("Failed to rollback transaction", core.F("error", rbErr))
			}
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				o.logger.Error("Failed to rollback transaction", core.F("error", rbErr))
			}
			return
		}
		if cErr := tx.Commit(ctx); cErr != nil {
			tag, err = "", fmt.Errorf("commit transaction: %w", cErr)
		}
	}()

	result, err := tx.Exec(ctx, statement)
	if err != nil {
		return "", fmt.Errorf("executing statement: %w", err)
	}
	o.logger.Debug("Executed statement", core.F("statement", statement), core.F("tag", result.String()))
	return result.String(), nil
}
