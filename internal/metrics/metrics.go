// Package metrics holds the Prometheus collectors for lecture admission.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttendOutcomes counts attendance attempts by outcome
	// (created, already_attended, capacity_exceeded, unavailable, error).
	AttendOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture_attend_total",
			Help: "Attendance attempts by outcome",
		},
		[]string{"outcome"},
	)

	// LectureOperations counts lecture lifecycle operations.
	LectureOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture_operations_total",
			Help: "Lecture open/close operations by status",
		},
		[]string{"operation", "status"},
	)

	// LockAcquisitions counts lock acquisition results
	// (immediate, retried, waited, timeout, error).
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture_lock_acquisitions_total",
			Help: "Distributed lock acquisitions by result",
		},
		[]string{"result"},
	)

	// LockWait observes how long callers waited for a lock.
	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lecture_lock_wait_seconds",
			Help:    "Time spent acquiring the lecture lock",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// CompensationFailures counts compensating actions that themselves failed.
	// Any increment means cache and database state have diverged.
	CompensationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture_compensation_failures_total",
			Help: "Failed compensating actions by action",
		},
		[]string{"action"},
	)
)
