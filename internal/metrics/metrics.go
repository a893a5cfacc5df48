package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bulkops"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Count of jobs finished by the worker pool, by operation and status.",
		},
		[]string{"operation", "status"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent inside the operation for one job.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"operation"},
	)
	limiterWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time a worker spent waiting on the shared rate limiter.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"operation"},
	)
	busyWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_workers",
			Help:      "Number of workers currently rate gated or executing.",
		},
		[]string{"operation"},
	)
)

var registerMetrics sync.Once

// Register all metrics on the default registry.
func Register() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(jobsTotal)
		prometheus.MustRegister(jobDuration)
		prometheus.MustRegister(limiterWait)
		prometheus.MustRegister(busyWorkers)
	})
}

// RecordJob counts a finished job and its duration.
func RecordJob(operation, status string, d time.Duration) {
	jobsTotal.WithLabelValues(operation, status).Inc()
	if status != "skipped" {
		jobDuration.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// RecordLimiterWait observes time spent in the rate limiter.
func RecordLimiterWait(operation string, d time.Duration) {
	limiterWait.WithLabelValues(operation).Observe(d.Seconds())
}

// WorkerBusy moves the busy gauge by delta (+1 entering, -1 leaving).
func WorkerBusy(operation string, delta float64) {
	busyWorkers.WithLabelValues(operation).Add(delta)
}

// Serve exposes /metrics on addr until the returned server is shut down.
// Listen errors other than a clean shutdown are sent to errc.
func Serve(addr string, errc chan<- error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	return server
}
