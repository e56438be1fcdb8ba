package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	MessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted to the message store",
		},
	)

	IndexTouchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_index_touch_retries_total",
			Help: "Retried conversation index updates after a persisted send",
		},
	)

	LiveEventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_live_events_published_total",
			Help: "Live events handed to the broker",
		},
		[]string{"result"},
	)

	LiveEventsDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_live_events_delivered_total",
			Help: "Live events queued on a connected websocket session",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_websocket_connections_active",
			Help: "Current number of active websocket sessions",
		},
	)
)
