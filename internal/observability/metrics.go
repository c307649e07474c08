package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "bookings_created_total", Help: "Total bookings created"})
	ClaimsWon       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "claims_won_total", Help: "Total successful booking claims"})
	ClaimConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "claim_conflicts_total", Help: "Total claims rejected as not claimable"})
	Transitions     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "status_transitions_total", Help: "Total booking status transitions applied"},
		[]string{"to"},
	)

	LocationReports = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "location_reports_total", Help: "Total driver location reports ingested"})
	DurableSamples  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "location_samples_total", Help: "Total durable location samples persisted"})
	TrackingUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "tracking_updates_total", Help: "Total booking tracking updates persisted"})
	CacheErrors     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "location_cache_errors_total", Help: "Total location cache errors"})

	FanoutPublished = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "fanout_events_published_total", Help: "Total events delivered to subscribers"})
	FanoutDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "fanout_events_dropped_total", Help: "Total events dropped on full subscriber buffers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
