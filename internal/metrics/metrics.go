// Package metrics exposes Herald's Prometheus instrumentation, grounded in
// the teacher's plain prometheus-client-golang usage (ws/metrics.go) rather
// than a bespoke registry abstraction.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_deliveries_total",
		Help: "Total delivery attempts by transport and outcome",
	}, []string{"transport", "outcome"})

	DeliveryLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "herald_delivery_latency_seconds",
		Help:    "Delivery attempt latency by transport",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"transport"})

	DeadLettersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "herald_dead_letters_total",
		Help: "Total deliveries that exhausted the retry ladder",
	})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "herald_queue_depth",
		Help: "Ready job count per lane",
	}, []string{"lane"})

	TunnelConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "herald_tunnel_connections_active",
		Help: "Currently connected tunnel agents on this instance",
	})

	RateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "herald_rate_limit_rejections_total",
		Help: "Total requests rejected by the token bucket limiter",
	})
)

func init() {
	prometheus.MustRegister(
		DeliveriesTotal,
		DeliveryLatencySeconds,
		DeadLettersTotal,
		QueueDepth,
		TunnelConnectionsActive,
		RateLimitRejections,
	)
}

// Handler returns the HTTP handler to mount at /metrics (§6.1 expansion).
func Handler() http.Handler {
	return promhttp.Handler()
}
