// Package failures collects per-job errors reported by the worker pool so
// callers can report on them after a run.
package failures

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"bulkops/internal/job"
)

// Sink receives every job whose operation failed. It is called from worker
// goroutines and must be safe for concurrent use.
type Sink[T any] func(j job.Job[T], err error)

// Failure is one recorded job error.
type Failure[T any] struct {
	Job job.Job[T]
	Err error
}

// Collector is a Sink that remembers failures in memory.
type Collector[T any] struct {
	mu       sync.Mutex
	failures []Failure[T]
}

// Sink returns the function to hand to the worker pool.
func (c *Collector[T]) Sink() Sink[T] {
	return c.Record
}

// Record stores a failure.
func (c *Collector[T]) Record(j job.Job[T], err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, Failure[T]{Job: j, Err: err})
}

// Len is the number of failures recorded so far.
func (c *Collector[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failures)
}

// Failures returns a copy of the recorded failures ordered by job ID.
func (c *Collector[T]) Failures() []Failure[T] {
	c.mu.Lock()
	out := append([]Failure[T](nil), c.failures...)
	c.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].Job.ID < out[k].Job.ID })
	return out
}

// Err combines every recorded failure into one error, nil when there were
// none.
func (c *Collector[T]) Err() error {
	var err error
	for _, f := range c.Failures() {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Job, f.Err))
	}
	return err
}
