package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Operation performs the externally visible effect for one job, e.g. an
// object upload or an API mutation. It is called at most once per job.
type Operation[T any] func(ctx context.Context, j Job[T]) error

// Enumerator produces payloads by calling emit once per item. A non-nil error
// from emit means the run is shutting down and enumeration should stop,
// returning that error.
type Enumerator[T any] func(ctx context.Context, emit func(T) error) error

// PanicError is returned by Process when the operation panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

// Process runs op for j and turns the outcome, including a panic, into a
// Result.
func Process[T any](ctx context.Context, op Operation[T], j Job[T]) (res Result) {
	start := time.Now()
	res.JobID = j.ID

	defer func() {
		if v := recover(); v != nil {
			res.Err = &PanicError{Value: v, Stack: debug.Stack()}
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Status = Failed
		} else {
			res.Status = Success
		}
	}()

	res.Err = op(ctx, j)
	return res
}

// Skip is the Result for a job drained without running.
func Skip[T any](j Job[T], cause error) Result {
	return Result{JobID: j.ID, Status: Skipped, Err: cause}
}

// FromSlice enumerates a fixed list of payloads.
func FromSlice[T any](items []T) Enumerator[T] {
	return func(ctx context.Context, emit func(T) error) error {
		for _, it := range items {
			if err := emit(it); err != nil {
				return err
			}
		}
		return nil
	}
}
