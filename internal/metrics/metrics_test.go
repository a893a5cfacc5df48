package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordJob(t *testing.T) {
	Register()

	before := testutil.ToFloat64(jobsTotal.WithLabelValues("test-record", "success"))
	RecordJob("test-record", "success", 10*time.Millisecond)
	RecordJob("test-record", "success", 20*time.Millisecond)
	RecordJob("test-record", "failed", time.Millisecond)
	RecordJob("test-record", "skipped", 0)

	assert.Equal(t, before+2, testutil.ToFloat64(jobsTotal.WithLabelValues("test-record", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsTotal.WithLabelValues("test-record", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsTotal.WithLabelValues("test-record", "skipped")))
	// one histogram series, for the single operation label used here.
	assert.Equal(t, 1, testutil.CollectAndCount(jobDuration, "bulkops_job_duration_seconds"))
}

func TestWorkerBusy(t *testing.T) {
	Register()

	WorkerBusy("test-busy", 1)
	WorkerBusy("test-busy", 1)
	WorkerBusy("test-busy", -1)
	assert.Equal(t, 1.0, testutil.ToFloat64(busyWorkers.WithLabelValues("test-busy")))
}

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}
