package sequence

import (
	"context"
	"sync"
)

// MemoryCounter is an in-memory CounterStore for tests and local runs.
// A single mutex serializes all periods; contention is not a concern at
// test scale.
type MemoryCounter struct {
	mu   sync.Mutex
	last map[Period]int
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{last: make(map[Period]int)}
}

func (c *MemoryCounter) Increment(_ context.Context, p Period) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[p]++
	return c.last[p], nil
}
