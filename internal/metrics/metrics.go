// Package metrics holds the Prometheus collectors shared by the server and
// the indexer client.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
	IndexerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_request_duration_seconds",
			Help:    "Duration of GraphQL requests to the indexer",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	IndexerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_errors_total",
			Help: "Total number of failed indexer requests",
		},
		[]string{"operation", "reason"},
	)
	RateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// Indexer error reasons
const (
	ReasonTransport   = "transport"
	ReasonStatus      = "status"
	ReasonGraphQL     = "graphql"
	ReasonDecode      = "decode"
	ReasonCircuitOpen = "circuit_open"
	ReasonTimeout     = "timeout"
)

var registerOnce sync.Once

// InitPrometheus registers the collectors with the default registry. Safe to
// call more than once.
func InitPrometheus() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			IndexerRequestDuration,
			IndexerErrorsTotal,
			RateLimitRejections,
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
