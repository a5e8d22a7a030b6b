package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "permitgate/pkg/domain-errors"
	"permitgate/pkg/platform/sentinel"
	txcontext "permitgate/pkg/platform/tx"
)

func TestFormat(t *testing.T) {
	p := Period{Month: time.January, Year: 2025}
	assert.Equal(t, "1/01/2025", Format(1, p))
	assert.Equal(t, "42/01/2025", Format(42, p))
	assert.Equal(t, "7/11/2024", Format(7, Period{Month: time.November, Year: 2024}))
}

func TestPeriodOf(t *testing.T) {
	p := PeriodOf(time.Date(2025, time.February, 14, 10, 30, 0, 0, time.UTC))
	assert.Equal(t, Period{Month: time.February, Year: 2025}, p)
}

func TestMemoryCounterStartsAtOnePerPeriod(t *testing.T) {
	counter := NewMemoryCounter()
	ctx := context.Background()

	jan := Period{Month: time.January, Year: 2025}
	feb := Period{Month: time.February, Year: 2025}

	seq, err := counter.Increment(ctx, jan)
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	seq, err = counter.Increment(ctx, jan)
	require.NoError(t, err)
	assert.Equal(t, 2, seq)

	// A new period starts its own series.
	seq, err = counter.Increment(ctx, feb)
	require.NoError(t, err)
	assert.Equal(t, 1, seq)
}

func TestAllocateConcurrentCallersGetDistinctNumbers(t *testing.T) {
	allocator := NewAllocator(NewMemoryCounter(), 3)
	period := Period{Month: time.February, Year: 2025}

	const n = 50
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			number, err := allocator.Allocate(context.Background(), period)
			assert.NoError(t, err)
			results[i] = number
		}(i)
	}
	wg.Wait()

	sort.Strings(results)
	seen := make(map[string]bool, n)
	for _, number := range results {
		assert.False(t, seen[number], "duplicate document number %s", number)
		seen[number] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[fmt.Sprintf("%d/02/2025", i)], "missing %d/02/2025", i)
	}
}

type conflictCounter struct {
	calls int
}

func (c *conflictCounter) Increment(context.Context, Period) (int, error) {
	c.calls++
	return 0, fmt.Errorf("counter collision: %w", sentinel.ErrConflict)
}

func TestAllocateExhaustedRetriesSurfaceContention(t *testing.T) {
	counter := &conflictCounter{}
	allocator := NewAllocator(counter, 3)

	_, err := allocator.Allocate(context.Background(), Period{Month: time.March, Year: 2025})
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeAllocationContention))
	assert.Equal(t, 3, counter.calls)
}

func TestAllocateInsideTransactionFailsFastOnConflict(t *testing.T) {
	// A serialization conflict aborts the surrounding transaction, so a second
	// increment on the same connection could never succeed. The allocator must
	// surface contention after one attempt and leave the retry to the caller.
	counter := &conflictCounter{}
	allocator := NewAllocator(counter, 3)

	ctx := txcontext.WithTx(context.Background(), new(sql.Tx))
	_, err := allocator.Allocate(ctx, Period{Month: time.March, Year: 2025})
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeAllocationContention))
	assert.Equal(t, 1, counter.calls)
}

type brokenCounter struct{}

func (brokenCounter) Increment(context.Context, Period) (int, error) {
	return 0, errors.New("connection refused")
}

func TestAllocateNonRetryableErrorIsNotRetried(t *testing.T) {
	allocator := NewAllocator(brokenCounter{}, 3)

	_, err := allocator.Allocate(context.Background(), Period{Month: time.March, Year: 2025})
	require.Error(t, err)
	assert.False(t, dErrors.Is(err, dErrors.CodeAllocationContention))
}

func TestAllocateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	allocator := NewAllocator(NewMemoryCounter(), 3)
	_, err := allocator.Allocate(ctx, Period{Month: time.March, Year: 2025})
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeTimeout))
}
