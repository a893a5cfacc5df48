package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkops/internal/failures"
	"bulkops/internal/job"
	"bulkops/internal/logging"
	"bulkops/internal/queue"
	"bulkops/internal/ratelimit"
	"bulkops/internal/worker"
)

// tolerance absorbs the scheduler delay between a gate grant and the op
// recording its start.
const tolerance = 2 * time.Millisecond

func testContext(t *testing.T) context.Context {
	return logging.IntoContext(context.Background(), testr.New(t))
}

func ids(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// recorder is an Operation that remembers which payloads ran and when.
type recorder struct {
	mu     sync.Mutex
	counts map[int]int
	starts []time.Time
}

func newRecorder() *recorder {
	return &recorder{counts: map[int]int{}}
}

func (r *recorder) op(_ context.Context, j job.Job[int]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[j.Payload]++
	r.starts = append(r.starts, time.Now())
	return nil
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.counts {
		n += c
	}
	return n
}

func TestConfigValidate(t *testing.T) {
	good := Config{Workers: 1, Rate: 1, Period: time.Second}
	require.NoError(t, good.Validate())

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "workers", cfg: Config{Workers: 0, Rate: 1, Period: time.Second}},
		{name: "rate", cfg: Config{Workers: 1, Rate: -1, Period: time.Second}},
		{name: "period", cfg: Config{Workers: 1, Rate: 1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.ErrorIs(t, test.cfg.Validate(), ratelimit.ErrInvalidConfiguration)
		})
	}
}

func TestEveryItemRunsExactlyOnce(t *testing.T) {
	for _, items := range []int{0, 1, 7, 25} {
		for workers := 1; workers <= items+5; workers += 3 {
			t.Run(fmt.Sprintf("%d items/%d workers", items, workers), func(t *testing.T) {
				rec := newRecorder()
				cfg := Config{Workers: workers, Rate: 10000, Period: time.Second, QueueSize: 4}

				summary, err := Run(testContext(t), cfg, rec.op, job.FromSlice(ids(items)), worker.Options[int]{})
				require.NoError(t, err)

				assert.Equal(t, items, summary.Dispatched)
				assert.Equal(t, items, summary.Processed)
				assert.Equal(t, items, rec.total())
				for id, n := range rec.counts {
					assert.Equal(t, 1, n, "payload %d", id)
				}
			})
		}
	}
}

func TestRepeatedRunsExecuteSameCount(t *testing.T) {
	enumerate := job.FromSlice(ids(12))
	cfg := Config{Workers: 4, Rate: 10000, Period: time.Second}

	var calls atomic.Int64
	op := func(context.Context, job.Job[int]) error {
		calls.Add(1)
		return nil
	}

	for run := 1; run <= 2; run++ {
		calls.Store(0)
		summary, err := Run(testContext(t), cfg, op, enumerate, worker.Options[int]{})
		require.NoError(t, err)
		assert.EqualValues(t, 12, calls.Load(), "run %d", run)
		assert.Equal(t, 12, summary.Processed, "run %d", run)
	}
}

func TestGlobalSpacingAcrossWorkers(t *testing.T) {
	rec := newRecorder()
	cfg := Config{Workers: 4, Rate: 25, Period: time.Second} // 40ms apart

	_, err := Run(testContext(t), cfg, rec.op, job.FromSlice(ids(10)), worker.Options[int]{Name: "test-spacing"})
	require.NoError(t, err)

	starts := rec.starts
	require.Len(t, starts, 10)
	sort.Slice(starts, func(i, k int) bool { return starts[i].Before(starts[k]) })
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 40*time.Millisecond-tolerance, "gap %d", i)
	}
}

func TestGlobalSpacingUnderContention(t *testing.T) {
	rec := newRecorder()
	cfg := Config{Workers: 20, Rate: 100, Period: time.Second} // 10ms apart

	summary, err := Run(testContext(t), cfg, rec.op, job.FromSlice(ids(60)), worker.Options[int]{Name: "test-contended"})
	require.NoError(t, err)
	assert.Equal(t, 60, summary.Processed)

	starts := rec.starts
	require.Len(t, starts, 60)
	sort.Slice(starts, func(i, k int) bool { return starts[i].Before(starts[k]) })
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 10*time.Millisecond-tolerance, "gap %d", i)
	}
}

func TestSingleWorkerTwoPerSecond(t *testing.T) {
	rec := newRecorder()
	cfg := Config{Workers: 1, Rate: 2, Period: time.Second}

	start := time.Now()
	summary, err := Run(testContext(t), cfg, rec.op, job.FromSlice(ids(5)), worker.Options[int]{})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Processed)
	// Four gaps of 500ms.
	assert.GreaterOrEqual(t, elapsed, 2*time.Second-tolerance)
	assert.Less(t, elapsed, 2500*time.Millisecond)
}

func TestNoItemsReturnsImmediately(t *testing.T) {
	rec := newRecorder()
	cfg := Config{Workers: 10, Rate: 100, Period: time.Second}

	start := time.Now()
	summary, err := Run(testContext(t), cfg, rec.op, job.FromSlice[int](nil), worker.Options[int]{})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, summary.Dispatched)
	assert.Zero(t, summary.Total())
	assert.Zero(t, rec.total())
}

func TestFailuresDoNotEscape(t *testing.T) {
	var collector failures.Collector[int]
	var done atomic.Int32
	op := func(_ context.Context, j job.Job[int]) error {
		done.Add(1)
		if j.Payload%2 == 0 {
			return fmt.Errorf("item %d rejected", j.Payload)
		}
		return nil
	}
	cfg := Config{Workers: 3, Rate: 1000, Period: time.Second}

	summary, err := Run(testContext(t), cfg, op, job.FromSlice(ids(10)), worker.Options[int]{FailureSink: collector.Sink()})
	require.NoError(t, err)

	assert.EqualValues(t, 10, done.Load())
	assert.Equal(t, 10, summary.Total())
	assert.Equal(t, 5, summary.Failed)
	assert.Equal(t, 5, collector.Len())
	for _, f := range collector.Failures() {
		assert.Zero(t, f.Job.Payload%2, "job %d", f.Job.ID)
	}
}

func TestZeroWorkersFailsBeforeDispatch(t *testing.T) {
	enumerated := false
	enumerate := func(context.Context, func(int) error) error {
		enumerated = true
		return nil
	}
	cfg := Config{Workers: 0, Rate: 1, Period: time.Second}

	_, err := Run(testContext(t), cfg, newRecorder().op, enumerate, worker.Options[int]{})
	require.ErrorIs(t, err, ratelimit.ErrInvalidConfiguration)
	assert.False(t, enumerated)
}

func TestEnumerationErrorStillDrainsPushedItems(t *testing.T) {
	rec := newRecorder()
	listErr := errors.New("page 2: 502 bad gateway")
	enumerate := func(_ context.Context, emit func(int) error) error {
		for _, id := range ids(3) {
			if err := emit(id); err != nil {
				return err
			}
		}
		return listErr
	}
	cfg := Config{Workers: 2, Rate: 1000, Period: time.Second}

	summary, err := Run(testContext(t), cfg, rec.op, enumerate, worker.Options[int]{})
	require.ErrorIs(t, err, listErr)
	assert.Equal(t, 3, summary.Dispatched)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, rec.total())
}

func TestCancellationSkipsRemainingWork(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	var executed atomic.Int32
	op := func(context.Context, job.Job[int]) error {
		if executed.Add(1) == 2 {
			cancel()
		}
		return nil
	}
	// Slow enough that cancellation lands while jobs are still queued.
	cfg := Config{Workers: 2, Rate: 20, Period: time.Second, QueueSize: 100}

	summary, err := Run(ctx, cfg, op, job.FromSlice(ids(20)), worker.Options[int]{})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, summary.Dispatched, summary.Total())
	assert.Less(t, int(executed.Load()), 20)
	assert.Positive(t, summary.Skipped)
	assert.EqualValues(t, summary.Processed, executed.Load())
}

func TestDispatchAllTwiceOnSamePool(t *testing.T) {
	ctx := testContext(t)
	lim, err := ratelimit.New(1000, time.Second)
	require.NoError(t, err)
	rec := newRecorder()

	pool, err := worker.Start(ctx, 2, rec.op, lim, newQueue(), worker.Options[int]{})
	require.NoError(t, err)

	_, err = DispatchAll(ctx, pool, job.FromSlice(ids(3)))
	require.NoError(t, err)

	_, err = DispatchAll(ctx, pool, job.FromSlice(ids(3)))
	require.Error(t, err)
	assert.Equal(t, 3, rec.total())
}

func newQueue() *queue.Queue[job.Job[int]] {
	return queue.New[job.Job[int]](8)
}
