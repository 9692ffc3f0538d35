package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "delivery_tracking"

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connections_active", Help: "Authenticated connections attached to the room registry"})
	RoomsActive       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "rooms_active", Help: "Rooms with at least one member"})
	BroadcastsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "broadcasts_total", Help: "Room broadcasts issued"})
	FramesDelivered   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "frames_delivered_total", Help: "Frames queued to room members"})
	FramesDropped     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "frames_dropped_total", Help: "Frames dropped because a member's queue was full"})
	LocationSamples   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_samples_total", Help: "Accepted driver location samples"})
	AuthFailures      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "auth_failures_total", Help: "Connections refused at authentication"})
	BridgeErrors      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bridge_errors_total", Help: "Cross-instance fan-out errors"},
		[]string{"op"},
	)
	SinkErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_sink_errors_total", Help: "Location samples the sink failed to accept"})

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Inbound events by name and outcome"},
		[]string{"event", "outcome"},
	)
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Accepted order status transitions"},
		[]string{"from", "to"},
	)
	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "event_duration_seconds", Help: "Inbound event handling latency", Buckets: prometheus.DefBuckets},
		[]string{"event"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
