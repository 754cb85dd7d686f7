package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Console metrics collectors
var (
	// Authentication

	TokenValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_token_validations_total",
			Help: "Sprites API token validations by result",
		},
		[]string{"result"},
	)

	TicketsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "console_tickets_issued_total",
			Help: "Relay console tickets minted",
		},
	)

	// Upstream

	SpritesAPIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_sprites_api_errors_total",
			Help: "Failed Sprites API calls by operation and HTTP status (0 for transport errors)",
		},
		[]string{"operation", "status_code"},
	)

	// HTTP

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
