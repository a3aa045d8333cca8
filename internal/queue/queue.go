// Package queue provides the deduplicating FIFO used to hand entities from
// many producers to the single indexing consumer.
package queue

import (
	"container/list"
	"context"
	"sync"
)

// KeyFunc returns the deduplication key of a value.
type KeyFunc[T any] func(T) string

// Queue is a thread-safe FIFO keyed by id. At most one value per key is pending:
// adding a value whose key is already queued replaces the stored value in place,
// keeping the original position.
type Queue[T any] struct {
	mu    sync.Mutex
	order *list.List               // of string keys, oldest first
	items map[string]*list.Element // key -> element in order
	vals  map[string]T
	key   KeyFunc[T]
	ready chan struct{}
}

// New creates an empty queue using key for deduplication.
func New[T any](key KeyFunc[T]) *Queue[T] {
	return &Queue[T]{
		order: list.New(),
		items: make(map[string]*list.Element),
		vals:  make(map[string]T),
		key:   key,
		ready: make(chan struct{}, 1),
	}
}

// Add queues v. If a value with the same key is pending it is replaced and
// Add returns true.
func (q *Queue[T]) Add(v T) bool {
	k := q.key(v)

	q.mu.Lock()
	_, replaced := q.items[k]
	if !replaced {
		q.items[k] = q.order.PushBack(k)
	}
	q.vals[k] = v
	q.mu.Unlock()

	q.signal()
	return replaced
}

// TryRemove pops the oldest value without blocking.
func (q *Queue[T]) TryRemove() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Remove pops the oldest value, blocking until one is available or ctx is done.
func (q *Queue[T]) Remove(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryRemove(); ok {
			return v, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Ready returns a channel that receives when the queue may have items.
// A receive is a hint; consumers must still call TryRemove.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Last returns the most recently queued pending value.
func (q *Queue[T]) Last() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	back := q.order.Back()
	if back == nil {
		var zero T
		return zero, false
	}
	return q.vals[back.Value.(string)], true
}

// Len returns the number of pending values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// IsEmpty reports whether nothing is pending.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Contains reports whether a value with key k is pending.
func (q *Queue[T]) Contains(k string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[k]
	return ok
}

// Clear drops every pending value and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.order.Len()
	q.order.Init()
	q.items = make(map[string]*list.Element)
	q.vals = make(map[string]T)
	return n
}

func (q *Queue[T]) popLocked() (T, bool) {
	front := q.order.Front()
	if front == nil {
		var zero T
		return zero, false
	}

	k := front.Value.(string)
	v := q.vals[k]
	q.order.Remove(front)
	delete(q.items, k)
	delete(q.vals, k)

	// Re-arm the hint so a consumer that drains one item at a time keeps going.
	if q.order.Len() > 0 {
		q.signal()
	}
	return v, true
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
