package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_requested_total", Help: "Total ride requests created"})
	RidesAcceptedTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_accepted_total", Help: "Total ride requests accepted by drivers"})
	RidesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_completed_total", Help: "Total rides completed"})
	RidesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "rides_cancelled_total", Help: "Total ride requests cancelled by riders"})

	TransitionConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hailing", Name: "transition_conflicts_total", Help: "Lifecycle transitions rejected by a status precondition"},
		[]string{"operation"},
	)

	RiderSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_hailing", Name: "rider_sessions_active", Help: "Connected rider subscription sessions"})

	EventsPublishedTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "events_published_total", Help: "Lifecycle events published to sinks"})
	EventPublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hailing", Name: "event_publish_errors_total", Help: "Lifecycle event publish failures"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hailing", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_hailing",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
