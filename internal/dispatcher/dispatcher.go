package dispatcher

import (
	"context"
	"fmt"
	"time"

	"bulkops/internal/job"
	"bulkops/internal/logging"
	"bulkops/internal/queue"
	"bulkops/internal/ratelimit"
	"bulkops/internal/worker"
)

// Config sizes one dispatch run.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// Rate operations are allowed per Period, across all workers.
	Rate   int
	Period time.Duration
	// QueueSize bounds the number of jobs waiting for a worker.
	QueueSize int
}

// Validate reports the first bad field, wrapping
// ratelimit.ErrInvalidConfiguration.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ratelimit.ErrInvalidConfiguration, c.Workers)
	}
	if c.Rate <= 0 {
		return fmt.Errorf("%w: rate must be positive, got %d", ratelimit.ErrInvalidConfiguration, c.Rate)
	}
	if c.Period <= 0 {
		return fmt.Errorf("%w: period must be positive, got %s", ratelimit.ErrInvalidConfiguration, c.Period)
	}
	return nil
}

// Summary describes a finished dispatch.
type Summary struct {
	worker.Snapshot
	// Dispatched is the number of jobs pushed into the queue.
	Dispatched int
	Elapsed    time.Duration
}

// StartDispatcher streams payloads from enumerate into q, numbering them from
// 1. It returns how many jobs were pushed.
func StartDispatcher[T any](ctx context.Context, enumerate job.Enumerator[T], q *queue.Queue[job.Job[T]]) (int, error) {
	logger := logging.FromContext(ctx)
	pushed := 0
	err := enumerate(ctx, func(payload T) error {
		j := job.Job[T]{ID: pushed + 1, Payload: payload}
		if err := q.Push(ctx, j); err != nil {
			return err
		}
		pushed++
		logger.V(logging.TRACE).Info("Dispatched job", "job", j.ID)
		return nil
	})
	return pushed, err
}

// DispatchAll feeds every payload from enumerate to pool, waits until each
// job was acknowledged, then stops the workers with one sentinel each.
//
// Job failures go to the pool's FailureSink and never make DispatchAll fail.
// It returns an error only if enumeration failed or ctx was cancelled; jobs
// pushed before that are still acknowledged before it returns. A pool can be
// dispatched to only once.
func DispatchAll[T any](ctx context.Context, pool *worker.Pool[T], enumerate job.Enumerator[T]) (Summary, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()
	q := pool.Queue()

	pushed, enumErr := StartDispatcher(ctx, enumerate, q)
	if enumErr != nil && ctx.Err() == nil {
		logger.Error(enumErr, "Enumeration stopped early", "dispatched", pushed)
	}

	// Workers keep acknowledging (as skipped) after cancellation, so Join
	// always finishes.
	if err := q.Join(context.WithoutCancel(ctx)); err != nil {
		return Summary{}, fmt.Errorf("join queue: %w", err)
	}
	if err := q.PushSentinels(pool.Size()); err != nil {
		return Summary{}, fmt.Errorf("stop workers: %w", err)
	}
	pool.Wait()

	summary := Summary{
		Snapshot:   pool.Stats(),
		Dispatched: pushed,
		Elapsed:    time.Since(start),
	}
	logger.V(logging.VERBOSE).Info("Dispatch finished",
		"dispatched", summary.Dispatched,
		"processed", summary.Processed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"elapsed", summary.Elapsed)

	switch {
	case ctx.Err() != nil:
		return summary, ctx.Err()
	case enumErr != nil:
		return summary, fmt.Errorf("enumerate: %w", enumErr)
	}
	return summary, nil
}

// Run builds the limiter, queue and worker pool for cfg and dispatches every
// payload from enumerate through op.
func Run[T any](ctx context.Context, cfg Config, op job.Operation[T], enumerate job.Enumerator[T], opts worker.Options[T]) (Summary, error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}
	limiter, err := ratelimit.New(cfg.Rate, cfg.Period)
	if err != nil {
		return Summary{}, err
	}
	q := queue.New[job.Job[T]](cfg.QueueSize)

	pool, err := worker.Start(ctx, cfg.Workers, op, limiter, q, opts)
	if err != nil {
		return Summary{}, err
	}
	return DispatchAll(ctx, pool, enumerate)
}
