// Package metrics registers prometheus collectors for the engine and wires
// them to the event bus, so the core packages stay free of metric calls.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hanpama/restql/internal/eventbus"
	"github.com/hanpama/restql/internal/events"
)

var (
	// HTTP requests, labeled by method and status.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restql_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restql_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restql_queries_total",
			Help: "Total number of resolved read requests",
		},
		[]string{"entity", "operation", "outcome"},
	)

	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restql_mutations_total",
			Help: "Total number of nested create/update operations",
		},
		[]string{"entity", "operation", "outcome"},
	)
)

// Register attaches the metric subscribers to the global event bus.
func Register() {
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		httpRequestsTotal.WithLabelValues(e.Request.Method, statusClass(e.Status)).Inc()
		httpRequestDuration.WithLabelValues(e.Request.Method).Observe(e.Duration.Seconds())
	})
	eventbus.Subscribe(func(ctx context.Context, e events.QueryFinish) {
		queriesTotal.WithLabelValues(e.Entity, e.Operation, outcome(e.Err)).Inc()
	})
	eventbus.Subscribe(func(ctx context.Context, e events.MutationFinish) {
		mutationsTotal.WithLabelValues(e.Entity, e.Operation, outcome(e.Err)).Inc()
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
