package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	txcontext "permitgate/pkg/platform/tx"
)

// SQLTxRunner wraps a function in a database transaction. The transaction is
// carried in context so every store touched inside the function - permit row,
// document counter - commits or rolls back as one unit. Cancellation mid-way
// rolls back the allocated number together with the status change.
type SQLTxRunner struct {
	db *sql.DB
}

func NewSQLTxRunner(db *sql.DB) *SQLTxRunner {
	return &SQLTxRunner{db: db}
}

func (r *SQLTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MemoryTxRunner serializes in-memory "transactions" with a coarse lock. Good
// enough for tests; the memory stores are internally consistent on their own.
type MemoryTxRunner struct {
	mu sync.Mutex
}

func NewMemoryTxRunner() *MemoryTxRunner {
	return &MemoryTxRunner{}
}

func (r *MemoryTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
