// Package util
//
// This file provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// Features and Guarantees:
//
//   - Lock-Free writes: producers only use atomic operations on the linked list
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Single Consumer: values are delivered in order on the Recv() channel
//   - No Strict FIFO across producers: concurrent pushes are ordered by which producer
//     completes its append first; pushes of a single producer keep their order
//
// The consensus node uses this queue as its event inbox, so RPC handlers, client
// calls and background workers never block on the event loop.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan *T
	closed atomic.Bool

	// mu guards the wait of the consumer goroutine, producers signal while holding it
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its delivery goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns false if the value is nil or the queue is closed.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// another producer may have moved the tail already
				q.tail.CompareAndSwap(tailNode, newNode)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin at low contention, yield afterward
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves items from the linked list to the output channel
func (q *LockFreeMPSC[T]) consume() {
	defer close(q.out)

	for {
		delivered := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			delivered = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !delivered && q.closed.Load() {
			return
		}

		if !delivered {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the values are delivered on.
// The channel is closed after Close once all queued values are delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close prevents further writes. Values already queued are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of the queued items. It is O(n).
func (q *LockFreeMPSC[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			return count
		}
		count++
		current = next
	}
}
