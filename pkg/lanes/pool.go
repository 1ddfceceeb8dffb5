// Package lanes provides the bounded worker pools behind the Thread and Process execution lanes.
package lanes

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const logPrefix = "lanes:pool"

// DefaultPoolSize is the size of each lane pool when none is configured.
const DefaultPoolSize = 4

// PoolStats is a snapshot of one pool.
type PoolStats struct {
	Name  string `json:"name"`
	Size  int    `json:"size"`
	InUse int64  `json:"inUse"`
}

// Pool bounds how many tasks of one lane run at once. Slots are shared by every
// connection and batch using the pool.
type Pool struct {
	name  string
	size  int
	sem   *semaphore.Weighted
	inUse atomic.Int64
}

// NewPool creates a pool with size slots; size <= 0 means DefaultPoolSize.
func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{name: name, size: size, sem: semaphore.NewWeighted(int64(size))}
}

// Do waits for a free slot and runs fn in the calling goroutine while holding it.
// It fails only if ctx ends before a slot frees up; fn is then not run.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s - %s pool: %w", logPrefix, p.name, err)
	}
	p.inUse.Add(1)
	defer func() {
		p.inUse.Add(-1)
		p.sem.Release(1)
	}()
	fn()
	return nil
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

// Stats returns a snapshot of pool usage.
func (p *Pool) Stats() PoolStats {
	return PoolStats{Name: p.name, Size: p.size, InUse: p.inUse.Load()}
}
