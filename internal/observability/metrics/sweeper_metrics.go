package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SweeperReasonDeadlineExceeded     = "deadline_exceeded"
	SweeperReasonDBLockTimeout        = "db_lock_timeout"
	SweeperReasonSerializationFailure = "serialization_failure"
	SweeperReasonUniqueViolation      = "unique_violation"
	SweeperReasonProcessor            = "processor"
	SweeperReasonUnknown              = "unknown"
)

const (
	VerificationOutcomeCompleted    = "completed"
	VerificationOutcomeNotCompleted = "not_completed"
	VerificationOutcomePending      = "pending"
	VerificationOutcomeFailed       = "failed"
)

// SweeperMetrics captures health signals of the capture verification sweeper.
type SweeperMetrics struct {
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobTimeouts   *prometheus.CounterVec
	jobErrors     *prometheus.CounterVec
	verifications *prometheus.CounterVec
	lockSkipped   *prometheus.CounterVec
	runLoopLag    prometheus.Observer
}

var (
	sweeperMetricsOnce sync.Once
	sweeperMetrics     *SweeperMetrics
)

// Sweeper returns the singleton sweeper metrics registry.
func Sweeper() *SweeperMetrics {
	return SweeperWithConfig(Config{})
}

// SweeperWithConfig returns the singleton sweeper metrics registry using config labels.
func SweeperWithConfig(cfg Config) *SweeperMetrics {
	sweeperMetricsOnce.Do(func() {
		sweeperMetrics = newSweeperMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sweeperMetrics
}

// NewSweeperMetricsForTest builds sweeper metrics against a private registry.
func NewSweeperMetricsForTest(registerer prometheus.Registerer) *SweeperMetrics {
	return newSweeperMetrics(registerer, Config{ServiceName: "paycapture", Environment: "test"})
}

func newSweeperMetrics(registerer prometheus.Registerer, cfg Config) *SweeperMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "paycapture"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paycapture_sweeper_job_runs_total",
		Help:        "Sweeper job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "paycapture_sweeper_job_duration_seconds",
		Help:        "Sweeper job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paycapture_sweeper_job_timeouts_total",
		Help:        "Sweeper jobs that exceeded their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paycapture_sweeper_job_errors_total",
		Help:        "Sweeper job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paycapture_capture_verifications_total",
		Help:        "Capture attempts verified against the processor by outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "outcome"})
	lockSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paycapture_sweeper_lock_skipped_total",
		Help:        "Sweeper runs skipped because another instance held the lock.",
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "paycapture_sweeper_runloop_lag_seconds",
		Help:        "Sweeper run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		verifications,
		lockSkipped,
		runLoopLag,
	)

	return &SweeperMetrics{
		jobRuns:       jobRuns,
		jobDuration:   jobDuration,
		jobTimeouts:   jobTimeouts,
		jobErrors:     jobErrors,
		verifications: verifications,
		lockSkipped:   lockSkipped,
		runLoopLag:    runLoopLag,
	}
}

// IncJobRun increments the run counter for a sweeper job.
func (m *SweeperMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records sweeper job latency in seconds.
func (m *SweeperMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SweeperMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *SweeperMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySweeperReason(err)).Inc()
}

func (m *SweeperMetrics) IncVerification(provider, outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(provider, outcome).Inc()
}

func (m *SweeperMetrics) IncLockSkipped(job string) {
	if m == nil {
		return
	}
	m.lockSkipped.WithLabelValues(job).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SweeperMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifySweeperReason maps sweeper errors to low-cardinality reasons.
func ClassifySweeperReason(err error) string {
	if err == nil {
		return SweeperReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SweeperReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return SweeperReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return SweeperReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return SweeperReasonUniqueViolation
	}
	var processorErr interface{ ProcessorError() bool }
	if errors.As(err, &processorErr) && processorErr.ProcessorError() {
		return SweeperReasonProcessor
	}
	return SweeperReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
