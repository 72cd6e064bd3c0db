package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driversync", Name: "polls_total", Help: "Reconciliation polls by loop and outcome"},
		[]string{"loop", "outcome"},
	)
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driversync", Name: "actions_total", Help: "Driver-initiated transitions by action and outcome"},
		[]string{"action", "outcome"},
	)
	RollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "driversync", Name: "rollbacks_total", Help: "Optimistic mutations rolled back after a failed call"},
	)
	OffersReceived = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "driversync", Name: "offers_received_total", Help: "Offers admitted into the offer set"},
	)
	OffersExpired = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "driversync", Name: "offers_expired_total", Help: "Offers auto-declined after the acceptance window"},
	)
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driversync", Name: "realtime_events_total", Help: "Realtime events by name"},
		[]string{"event"},
	)
	RealtimeConnected = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "driversync", Name: "realtime_connected", Help: "1 when the presence channel is connected"},
	)
	LocationReports = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driversync", Name: "location_reports_total", Help: "Location samples posted by watcher and outcome"},
		[]string{"watcher", "outcome"},
	)
	UnknownStatusTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "driversync", Name: "unknown_status_total", Help: "Backend statuses outside both vocabularies, defaulted to incoming"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driversync", Name: "http_requests_total", Help: "Control API requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driversync",
			Name:      "http_request_duration_seconds",
			Help:      "Control API request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
