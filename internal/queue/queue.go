// Package queue provides a FIFO container used for in-flight command bookkeeping.
package queue

// Queue is a first-in first-out container. It is not safe for concurrent use;
// callers confine it to a single goroutine.
type Queue[T any] struct {
	items []T
	head  int
}

// New creates an empty queue with room for prealloc items.
func New[T any](prealloc int) *Queue[T] {
	return &Queue[T]{items: make([]T, 0, prealloc)}
}

// Enqueue adds an item to the tail of the queue.
func (q *Queue[T]) Enqueue(item T) {
	// compact once the consumed prefix dominates the backing array
	if q.head > 0 && q.head >= len(q.items)/2 {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	q.items = append(q.items, item)
}

// Dequeue removes and returns the item at the head of the queue.
// ok is false when the queue is empty.
func (q *Queue[T]) Dequeue() (item T, ok bool) {
	if q.head >= len(q.items) {
		return item, false
	}
	item = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
func (q *Queue[T]) Peek() (item T, ok bool) {
	if q.head >= len(q.items) {
		return item, false
	}
	return q.items[q.head], true
}

// Each calls fn for every queued item from head to tail until fn returns false.
func (q *Queue[T]) Each(fn func(T) bool) {
	for _, item := range q.items[q.head:] {
		if !fn(item) {
			return
		}
	}
}

// Reset drops all items and keeps the backing array.
func (q *Queue[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *Queue[T]) IsEmpty() bool {
	return q.Length() == 0
}

// Length returns the number of items in the queue.
func (q *Queue[T]) Length() int {
	return len(q.items) - q.head
}
