package job

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"bulkops/internal/logging"
)

type Status string

// Status values for a finished job.
const (
	Success Status = "success"
	Failed  Status = "failed"
	// Skipped jobs were drained after cancellation without running.
	Skipped Status = "skipped"
)

// A Job is one unit of work: a sequence number assigned by the producer and
// the payload the operation needs. Jobs are not modified once queued.
type Job[T any] struct {
	ID      int
	Payload T
}

func (j Job[T]) String() string {
	return fmt.Sprintf("job #%d", j.ID)
}

// Result records how a job ended.
type Result struct {
	JobID    int
	Status   Status
	Err      error
	Duration time.Duration
}

// Log writes a status line for the result. Failures are errors, skips log at
// DEBUG and successes at TRACE.
func (r Result) Log(logger logr.Logger) {
	switch r.Status {
	case Failed:
		logger.Error(r.Err, "Job failed", "job", r.JobID, "duration", r.Duration)
	case Skipped:
		logger.V(logging.DEBUG).Info("Job skipped", "job", r.JobID, "reason", r.Err)
	default:
		logger.V(logging.TRACE).Info("Job done", "job", r.JobID, "duration", r.Duration)
	}
}
