package metrics

import (
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"spriteconsole/core/streaming"
)

// Relay metrics collectors
var (
	// Sessions

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Number of bridged console sessions currently open",
		},
	)

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Total number of sessions by mode and how they ended",
		},
		[]string{"mode", "outcome"},
	)

	RejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rejected_connections_total",
			Help: "Connections closed before an upstream dial, by reason",
		},
		[]string{"mode", "reason"},
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_session_duration_seconds",
			Help:    "Session lifetime in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 14400},
		},
		[]string{"mode"},
	)

	// Upstream

	UpstreamDialDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_upstream_dial_duration_seconds",
			Help:    "Upstream exec WebSocket dial latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)

	// Traffic

	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Frames forwarded by direction and WebSocket message type",
		},
		[]string{"direction", "type"},
	)

	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bytes_total",
			Help: "Payload bytes forwarded by direction",
		},
		[]string{"direction"},
	)

	// HTTP

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "HTTP requests served by the relay",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// FrameObserver feeds bridge traffic into the frame and byte counters.
type FrameObserver struct{}

func (FrameObserver) ObserveFrame(dir streaming.Direction, messageType int, size int) {
	kind := "binary"
	if messageType == websocket.TextMessage {
		kind = "text"
	}
	FramesTotal.WithLabelValues(string(dir), kind).Inc()
	BytesTotal.WithLabelValues(string(dir)).Add(float64(size))
}
