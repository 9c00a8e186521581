package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttendanceDecisions counts engine outcomes by decision kind.
	AttendanceDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_decisions_total",
		Help: "Attendance decisions by kind.",
	}, []string{"kind"})

	// AttendanceAnomalies counts days whose history broke login/logout alternation.
	AttendanceAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_history_anomalies_total",
		Help: "Attendance histories that had to be resynchronized.",
	})

	// AttendanceCommitRetries counts storage retries while committing a record.
	AttendanceCommitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_commit_retries_total",
		Help: "Retried attendance commits after transient storage errors.",
	})

	// BookingChecks counts conflict guard results: accepted, rejected, invalid.
	BookingChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_conflict_checks_total",
		Help: "Schedule conflict checks by result.",
	}, []string{"result"})

	// QueueMessages counts messages handled by the worker by type and outcome.
	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_messages_total",
		Help: "Queue messages processed by the worker.",
	}, []string{"type", "outcome"})
)
