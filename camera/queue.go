package camera

import "sync"

// BlockingQueue is an unbounded FIFO with a single consumer. Pop blocks
// until an item arrives or the queue is closed; once closed, Pop returns
// false even if items remain.
type BlockingQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewBlockingQueue creates an empty, open queue
func NewBlockingQueue[T any]() *BlockingQueue[T] {
	q := &BlockingQueue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v. It returns false if the queue is closed.
func (q *BlockingQueue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	q.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking while the queue is empty
func (q *BlockingQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	var zero T
	if q.closed {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Close wakes the consumer and returns the items that were never popped
func (q *BlockingQueue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	dropped := q.items
	q.items = nil
	q.cond.Broadcast()
	return dropped
}

// Reopen makes a closed queue accept items again
func (q *BlockingQueue[T]) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// Len returns the number of queued items
func (q *BlockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
