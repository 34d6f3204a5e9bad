// Package metrics holds the Prometheus collectors of the dispatch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SchedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks by result.",
		},
		[]string{"result"}, // ok, scan_error, submit_error, panic
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "dispatch_jobs_enqueued_total",
			Help:      "Dispatch jobs submitted by the scheduler.",
		},
		[]string{"result"}, // ok, error
	)

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "dispatch_outcomes_total",
			Help:      "Dispatch outcomes by kind.",
		},
		[]string{"kind"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts by result.",
		},
		[]string{"result"}, // sent, failed
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "newsletter",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of one dispatch.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"kind"},
	)
)
