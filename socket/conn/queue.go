package conn

import (
	"sync"

	"github.com/eapache/queue"
)

// fifo is a thread-safe, unbounded FIFO queue backed by a ring buffer.
// Producers call Push concurrently, the single consumer loop calls Pop.
type fifo[T any] struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{q: queue.New()}
}

// Push appends v to the tail of the queue
func (f *fifo[T]) Push(v T) {
	f.mu.Lock()
	f.q.Add(v)
	f.mu.Unlock()
}

// Pop removes and returns the head of the queue. ok is false if the queue is empty.
func (f *fifo[T]) Pop() (v T, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.q.Length() == 0 {
		return v, false
	}
	return f.q.Remove().(T), true
}

// Len returns the number of queued items
func (f *fifo[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Length()
}

// Drain removes all items and returns them in queue order
func (f *fifo[T]) Drain() []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]T, 0, f.q.Length())
	for f.q.Length() > 0 {
		out = append(out, f.q.Remove().(T))
	}
	return out
}
