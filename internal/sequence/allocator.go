// Package sequence mints document numbers: a strictly increasing series per
// (month, year) period, serialized through an atomic counter row so two
// concurrent approvals can never observe the same next value.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	dErrors "permitgate/pkg/domain-errors"
	"permitgate/pkg/platform/sentinel"
	txcontext "permitgate/pkg/platform/tx"
)

// Period identifies a numbering series.
type Period struct {
	Month time.Month
	Year  int
}

// PeriodOf derives the numbering period from a document date.
func PeriodOf(t time.Time) Period {
	return Period{Month: t.Month(), Year: t.Year()}
}

// Format renders a document number as "{seq}/{MM}/{YYYY}".
func Format(seq int, p Period) string {
	return fmt.Sprintf("%d/%02d/%d", seq, int(p.Month), p.Year)
}

// CounterStore increments the per-period counter and returns the new value.
// The first allocation for a period returns 1. Implementations must be atomic
// under concurrent callers; a retryable collision surfaces as
// sentinel.ErrConflict.
type CounterStore interface {
	Increment(ctx context.Context, p Period) (int, error)
}

// Allocator mints formatted document numbers with a bounded retry budget.
// Numbers are never skipped or reused on retry: the increment either commits
// inside the caller's transaction or the whole transaction rolls back.
type Allocator struct {
	counter CounterStore
	retries int
}

func NewAllocator(counter CounterStore, retries int) *Allocator {
	if retries < 1 {
		retries = 1
	}
	return &Allocator{counter: counter, retries: retries}
}

// Allocate returns the next document number for the period.
//
// When the context carries a transaction the counter increment runs inside it,
// and a serialization conflict aborts that transaction: a second attempt on
// the same connection would only fail again, so Allocate surfaces
// CodeAllocationContention after the first collision and leaves retrying the
// whole transaction to the caller. Outside a transaction each increment
// commits on its own, so Allocate retries up to its budget before giving up.
func (a *Allocator) Allocate(ctx context.Context, p Period) (string, error) {
	retries := a.retries
	if _, inTx := txcontext.From(ctx); inTx {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeTimeout, "allocation aborted")
		}
		seq, err := a.counter.Increment(ctx, p)
		if err == nil {
			return Format(seq, p), nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return "", fmt.Errorf("increment document counter: %w", err)
		}
		lastErr = err
	}
	return "", dErrors.Wrap(lastErr, dErrors.CodeAllocationContention, "document counter contended, try again")
}
