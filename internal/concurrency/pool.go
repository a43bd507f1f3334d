package concurrency

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

const DefaultPoolSize = 3

// Pool bounds how many analysis tasks run at once across every pipeline run sharing it.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

func (p *Pool) Size() int {
	return int(p.size)
}

// Do acquires a slot, runs fn and releases the slot. Waiting for a slot honors ctx.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker slot: %w", err)
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
