package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActivityTotal counts finished activities by name and result
	// ("ok" or "error").
	ActivityTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackd_activity_total",
			Help: "Total number of executed activities",
		},
		[]string{"activity", "result"},
	)

	ActivityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackd_activity_duration_seconds",
			Help:    "Activity execution time in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"activity"},
	)

	// NotificationsTotal counts delivery attempts by notifier and result
	// ("sent", "failed" or "error").
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackd_notifications_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"notifier", "result"},
	)

	ChainsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackd_stack_chains_started_total",
			Help: "Total number of stack chains started",
		},
		[]string{"intent"},
	)
)
