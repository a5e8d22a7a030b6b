// Package tx carries an open *sql.Tx through context so the permit and
// counter stores join the same transaction without taking it as a parameter.
// The approval path relies on this: the status update and the document
// counter increment commit or roll back as one unit.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx returns a context whose store operations run inside tx. A nil tx
// leaves the context untouched.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From reports the transaction carried by ctx, if any. Stores fall back to
// their own connection pool when none is present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}
