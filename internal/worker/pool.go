package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bulkops/internal/failures"
	"bulkops/internal/job"
	"bulkops/internal/logging"
	"bulkops/internal/metrics"
	"bulkops/internal/queue"
	"bulkops/internal/ratelimit"
)

// State is where a worker is in its loop.
type State int32

const (
	Idle State = iota
	WaitingOnQueue
	RateGated
	Executing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingOnQueue:
		return "waiting-on-queue"
	case RateGated:
		return "rate-gated"
	case Executing:
		return "executing"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options tune a Pool. The zero value is usable.
type Options[T any] struct {
	// Name labels logs and metrics for this pool, e.g. "objupload".
	Name string
	// FailureSink, if set, receives every job whose operation failed.
	FailureSink failures.Sink[T]
}

// Stats counts finished jobs. Safe to read while the pool runs.
type Stats struct {
	Processed int
	Failed    int
	Skipped   int
	Mutex     sync.Mutex
}

func (s *Stats) add(status job.Status) {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	switch status {
	case job.Success:
		s.Processed++
	case job.Failed:
		s.Failed++
	case job.Skipped:
		s.Skipped++
	}
}

// Snapshot is a copy of Stats taken under its lock.
type Snapshot struct {
	Processed int
	Failed    int
	Skipped   int
}

// Total is the number of jobs acknowledged.
func (s Snapshot) Total() int {
	return s.Processed + s.Failed + s.Skipped
}

func (s *Stats) snapshot() Snapshot {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	return Snapshot{Processed: s.Processed, Failed: s.Failed, Skipped: s.Skipped}
}

// Pool is a fixed set of workers draining one queue through one limiter.
type Pool[T any] struct {
	op      job.Operation[T]
	limiter *ratelimit.Limiter
	queue   *queue.Queue[job.Job[T]]
	opts    Options[T]

	states []atomic.Int32
	stats  Stats
	wg     sync.WaitGroup
}

// Start validates its arguments and launches workers goroutines. Nothing is
// started when it returns an error.
//
// Once ctx is done, workers keep popping so that Join still returns, but they
// acknowledge the remaining jobs as skipped instead of running them.
func Start[T any](ctx context.Context, workers int, op job.Operation[T], limiter *ratelimit.Limiter, q *queue.Queue[job.Job[T]], opts Options[T]) (*Pool[T], error) {
	switch {
	case workers <= 0:
		return nil, fmt.Errorf("%w: worker count must be positive, got %d", ratelimit.ErrInvalidConfiguration, workers)
	case op == nil:
		return nil, fmt.Errorf("%w: operation is required", ratelimit.ErrInvalidConfiguration)
	case limiter == nil:
		return nil, fmt.Errorf("%w: rate limiter is required", ratelimit.ErrInvalidConfiguration)
	case q == nil:
		return nil, fmt.Errorf("%w: queue is required", ratelimit.ErrInvalidConfiguration)
	}

	p := &Pool[T]{
		op:      op,
		limiter: limiter,
		queue:   q,
		opts:    opts,
		states:  make([]atomic.Int32, workers),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run(ctx, i)
	}
	logging.FromContext(ctx).V(logging.VERBOSE).Info("Worker pool started",
		"pool", opts.Name, "workers", workers, "interval", limiter.Interval())
	return p, nil
}

// Size is the number of workers.
func (p *Pool[T]) Size() int {
	return len(p.states)
}

// Queue is the queue the workers drain.
func (p *Pool[T]) Queue() *queue.Queue[job.Job[T]] {
	return p.queue
}

// Stats returns the counts of finished jobs.
func (p *Pool[T]) Stats() Snapshot {
	return p.stats.snapshot()
}

// States reports each worker's current state.
func (p *Pool[T]) States() []State {
	out := make([]State, len(p.states))
	for i := range p.states {
		out[i] = State(p.states[i].Load())
	}
	return out
}

// Wait blocks until every worker consumed its sentinel and stopped.
func (p *Pool[T]) Wait() {
	p.wg.Wait()
}

func (p *Pool[T]) setState(id int, s State) {
	p.states[id].Store(int32(s))
}

func (p *Pool[T]) run(ctx context.Context, id int) {
	logger := logging.FromContext(ctx).WithValues("pool", p.opts.Name, "worker", id)
	defer func() {
		p.setState(id, Stopped)
		logger.V(logging.DEBUG).Info("Worker exiting")
		p.wg.Done()
	}()

	for {
		p.setState(id, WaitingOnQueue)
		j, ok := p.queue.Pop()
		if !ok {
			return
		}

		res := p.handle(ctx, id, j)
		p.stats.add(res.Status)
		metrics.RecordJob(p.opts.Name, string(res.Status), res.Duration)

		res.Log(logger)
		if res.Status == job.Failed && p.opts.FailureSink != nil {
			p.opts.FailureSink(j, res.Err)
		}

		p.queue.MarkDone()
		p.setState(id, Idle)
	}
}

// handle runs one job: throttle, then execute. Cancellation before the op
// starts turns the job into a skip.
func (p *Pool[T]) handle(ctx context.Context, id int, j job.Job[T]) job.Result {
	if err := ctx.Err(); err != nil {
		return job.Skip(j, err)
	}

	metrics.WorkerBusy(p.opts.Name, 1)
	defer metrics.WorkerBusy(p.opts.Name, -1)

	p.setState(id, RateGated)
	waitStart := time.Now()
	if err := p.limiter.Acquire(ctx); err != nil {
		return job.Skip(j, err)
	}
	metrics.RecordLimiterWait(p.opts.Name, time.Since(waitStart))

	p.setState(id, Executing)
	return job.Process(ctx, p.op, j)
}
