package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"permitgate/pkg/platform/sentinel"
	txcontext "permitgate/pkg/platform/tx"
)

// PostgresCounter persists per-period counters in the document_counters
// table. The upsert-returning statement is a single atomic read-increment-
// write: the row lock it takes serializes concurrent allocations for the same
// period until the surrounding transaction commits.
type PostgresCounter struct {
	db *sql.DB
}

func NewPostgresCounter(db *sql.DB) *PostgresCounter {
	return &PostgresCounter{db: db}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *PostgresCounter) querier(ctx context.Context) rowQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return c.db
}

func (c *PostgresCounter) Increment(ctx context.Context, p Period) (int, error) {
	query := `
		INSERT INTO document_counters (month, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (month, year) DO UPDATE SET
			last_number = document_counters.last_number + 1
		RETURNING last_number
	`
	var seq int
	err := c.querier(ctx).QueryRowContext(ctx, query, int(p.Month), p.Year).Scan(&seq)
	if err != nil {
		if isRetryable(err) {
			return 0, fmt.Errorf("counter collision: %w", sentinel.ErrConflict)
		}
		return 0, fmt.Errorf("increment counter %02d/%d: %w", int(p.Month), p.Year, err)
	}
	return seq, nil
}

// isRetryable matches serialization failures and deadlocks, which postgres
// asks clients to retry.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
