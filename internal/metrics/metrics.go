package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC metrics
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_rpc_requests_total",
			Help: "Total DataService RPCs",
		},
		[]string{"method", "code"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskline_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Data metrics
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_rows_written_total",
			Help: "Rows written through the engine",
		},
		[]string{"collection", "op"},
	)

	// Realtime metrics
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deskline_realtime_subscriptions",
			Help: "Open realtime streams",
		},
		[]string{"kind"}, // "watch" or "listen"
	)

	BusEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskline_bus_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	BroadcastsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskline_broadcasts_sent_total",
			Help: "Broadcast payloads published",
		},
		[]string{"backend"}, // "local" or "redis"
	)
)
