// Package metrics exposes request and scheduling counters on the standard
// Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caldav_http_requests_total",
		Help: "HTTP requests by method and status.",
	}, []string{"method", "status"})

	duration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caldav_http_request_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caldav_schedule_deliveries_total",
		Help: "Scheduling recipient outcomes by delivery status.",
	}, []string{"status"})
)

// ObserveRequest records one finished HTTP request.
func ObserveRequest(method string, status int, elapsed time.Duration) {
	requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveDelivery records one scheduling recipient outcome.
func ObserveDelivery(status string) {
	deliveries.WithLabelValues(status).Inc()
}

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
