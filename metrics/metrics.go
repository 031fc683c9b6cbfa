// Package metrics provides Prometheus metrics for the family graph engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Propagation write results.
const (
	ResultApplied  = "applied"
	ResultNoop     = "noop"
	ResultStale    = "stale"
	ResultConflict = "conflict"
	ResultFailed   = "failed"
)

var (
	// ValidationRejections counts rejected mutations by rule code
	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "familytree",
			Subsystem: "validation",
			Name:      "rejections_total",
			Help:      "Total number of relationship or field rule violations by rule code",
		},
		[]string{"rule"},
	)

	// PropagationWrites counts peer writes by op and result
	PropagationWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "familytree",
			Subsystem: "propagation",
			Name:      "writes_total",
			Help:      "Total number of compensating peer writes by op and result",
		},
		[]string{"op", "result"},
	)

	// PropagationTasksPending tracks tasks queued in the worker pool
	PropagationTasksPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "familytree",
			Subsystem: "propagation",
			Name:      "tasks_pending",
			Help:      "Number of propagation tasks waiting in the worker queue",
		},
	)

	// PropagationTasksFailed counts tasks that exhausted their retry budget
	PropagationTasksFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "familytree",
			Subsystem: "propagation",
			Name:      "tasks_failed_total",
			Help:      "Total number of propagation tasks that exhausted their attempts",
		},
	)

	// TreeAssemblyDuration tracks family tree assembly time in seconds
	TreeAssemblyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "familytree",
			Subsystem: "tree",
			Name:      "assembly_duration_seconds",
			Help:      "Duration of family tree assembly in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		},
		[]string{"depth"},
	)
)
