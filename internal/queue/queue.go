package queue

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is used when a non-positive capacity is passed to New.
const DefaultCapacity = 64

var (
	// ErrClosed is returned by Push once shutdown sentinels were queued.
	ErrClosed = errors.New("queue: closed for new work")
	// ErrPendingWork is returned by PushSentinels while pushed items are still
	// queued or in flight. Stopping workers then would strand that work.
	ErrPendingWork = errors.New("queue: sentinel pushed while work is pending")
)

// slot is what travels through the channel: either a work item or the
// shutdown sentinel.
type slot[T any] struct {
	item T
	stop bool
}

// Queue hands items from producers to workers. It is bounded: Push blocks
// while Capacity() items are waiting to be popped.
type Queue[T any] struct {
	ch chan slot[T]

	mu sync.Mutex
	// outstanding counts pushed items not yet marked done.
	outstanding int
	// idle is closed whenever outstanding is zero and replaced when the next
	// item is pushed.
	idle   chan struct{}
	closed bool
}

// New creates a queue holding at most capacity unpopped items.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue[T]{ch: make(chan slot[T], capacity), idle: idle}
}

// Capacity is the number of items the buffer holds before Push blocks.
func (q *Queue[T]) Capacity() int {
	return cap(q.ch)
}

// Len is the number of items (and sentinels) waiting to be popped.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Outstanding is the number of pushed items not yet marked done.
func (q *Queue[T]) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// Push adds item, blocking while the queue is full. The item is counted as
// pending before it becomes visible to workers so Join can never miss it.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.outstanding == 0 {
		q.idle = make(chan struct{})
	}
	q.outstanding++
	q.mu.Unlock()

	select {
	case q.ch <- slot[T]{item: item}:
		return nil
	case <-ctx.Done():
		q.done()
		return ctx.Err()
	}
}

// Pop blocks until something is queued. ok is false when the worker received
// its shutdown sentinel and must stop.
func (q *Queue[T]) Pop() (item T, ok bool) {
	s := <-q.ch
	return s.item, !s.stop
}

// MarkDone acknowledges one popped item whose work has finished, whether or
// not it succeeded.
func (q *Queue[T]) MarkDone() {
	q.done()
}

func (q *Queue[T]) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding == 0 {
		panic("queue: MarkDone called more times than Push")
	}
	q.outstanding--
	if q.outstanding == 0 {
		close(q.idle)
	}
}

// Join blocks until every pushed item was marked done, or ctx is done. A
// cancelled Join leaves nothing behind.
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushSentinels closes the queue for new work and queues n shutdown
// sentinels, one per worker. It refuses while work is outstanding, so the
// only way to stop workers is after Join returned. It can succeed only once.
func (q *Queue[T]) PushSentinels(n int) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.outstanding > 0 {
		q.mu.Unlock()
		return ErrPendingWork
	}
	q.closed = true
	q.mu.Unlock()

	for i := 0; i < n; i++ {
		q.ch <- slot[T]{stop: true}
	}
	return nil
}
