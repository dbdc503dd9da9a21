package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonLockHeld         = "lock_held"
	SchedulerJobReasonDB               = "db"
	SchedulerJobReasonUnknown          = "unknown"
)

// SchedulerMetrics captures background job health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	usersSkipped   *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
}

var (
	schedulerOnce    sync.Once
	schedulerMetrics *SchedulerMetrics
)

// Scheduler returns the process-wide scheduler metrics, registering them on
// first use.
func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return schedulerMetrics
}

func newSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_scheduler_job_runs_total",
			Help: "Job executions by job name.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lumen_scheduler_job_duration_seconds",
			Help:    "Job execution latency by job name.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_scheduler_job_timeouts_total",
			Help: "Jobs cut off by their per-job timeout.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_scheduler_job_errors_total",
			Help: "Job failures by job name and reason.",
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_scheduler_batch_processed_total",
			Help: "Items processed per job.",
		}, []string{"job"}),
		usersSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_scheduler_users_skipped_total",
			Help: "Users skipped per job and reason.",
		}, []string{"job", "reason"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lumen_scheduler_run_loop_lag_seconds",
			Help:    "How far behind schedule the run loop started.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60},
		}),
	}
	registerer.MustRegister(
		m.jobRuns, m.jobDuration, m.jobTimeouts,
		m.jobErrors, m.batchProcessed, m.usersSkipped, m.runLoopLag,
	)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(count))
}

func (m *SchedulerMetrics) IncUserSkipped(job, reason string) {
	if m == nil {
		return
	}
	m.usersSkipped.WithLabelValues(job, reason).Inc()
}

func (m *SchedulerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil || lag <= 0 {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifySchedulerJobReason buckets errors into low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	default:
		return SchedulerJobReasonUnknown
	}
}
