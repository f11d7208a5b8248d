// bounded worker pool, the only thing the reactor shares with workers besides the completion list
package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs fn for every submitted item on a fixed set of workers.
// the buffered channel is the whole queue: FIFO order, its capacity the bound,
// and a receive is what wakes an idle worker, so there is no mutex or semaphore
type Pool[T any] struct {
	tasks   chan T
	workers int
}

func NewPool[T any](workers, queue int) *Pool[T] {
	return &Pool[T]{
		tasks:   make(chan T, queue),
		workers: workers,
	}
}

// Submit never blocks; false means the queue is full and t was not taken.
func (p *Pool[T]) Submit(t T) bool {
	select {
	case p.tasks <- t:
		return true
	default:
		return false
	}
}

func (p *Pool[T]) Len() int { return len(p.tasks) }

// Start launches the workers on g, they return once ctx is done.
// items still queued at that point are left in the channel
func (p *Pool[T]) Start(ctx context.Context, g *errgroup.Group, fn func(T)) {
	for range p.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case t := <-p.tasks:
					fn(t)
				}
			}
		})
	}
}
