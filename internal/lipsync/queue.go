package lipsync

import "sync"

// fifo is an unbounded queue used for the audio frame feed. The consumer
// never blocks on it: an empty queue means silence, so only non-blocking
// operations are provided.
type fifo[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *fifo[T]) Put(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// TryGet pops the oldest item, reporting false when the queue is empty.
func (q *fifo[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *fifo[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops all queued items.
func (q *fifo[T]) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
