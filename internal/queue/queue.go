// Package queue provides the handoff buffer between receive goroutines and
// the simulation goroutine.
package queue

import (
	"sync"
)

// Queue is a mutex-guarded FIFO that producers append to from any goroutine
// and a single consumer drains once per tick. A positive limit bounds the
// buffered items; pushes beyond it are dropped and counted.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped uint64
}

// New creates an empty queue. limit <= 0 means unbounded.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

// Push appends item and reports whether it was accepted.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		q.dropped++
		return false
	}
	q.items = append(q.items, item)
	return true
}

// Drain returns every buffered item in arrival order and empties the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]T, 0, cap(out))
	return out
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many pushes were rejected by the limit.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Reset discards buffered items and the drop count.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.dropped = 0
}
