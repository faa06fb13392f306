// Package metrics holds the Prometheus collectors for the realtime
// layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Connection metrics
	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	ConnectionsDropped prometheus.Counter

	// Event bus metrics
	EventsPublished *prometheus.CounterVec
	EventsDelivered *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec

	// Presence metrics
	PresenceOnline prometheus.Gauge
	PresenceErrors prometheus.Counter

	// Call signaling metrics
	CallSessionsActive prometheus.Gauge
	CallOffersRelayed  prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ws_connections_active",
				Help: "Currently registered WebSocket connections on this process",
			}),
			ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ws_connections_total",
				Help: "Total WebSocket connections accepted since start",
			}),
			ConnectionsDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ws_connections_dropped_total",
				Help: "Connections dropped due to a full send buffer or heartbeat timeout",
			}),
			EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bus_events_published_total",
				Help: "Domain events published to the bus",
			}, []string{"channel"}),
			EventsDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bus_events_delivered_total",
				Help: "Events pushed to local connections by the gateway",
			}, []string{"channel"}),
			EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bus_events_dropped_total",
				Help: "Events that could not be pushed to a local connection",
			}, []string{"channel"}),
			PresenceOnline: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "presence_local_online_users",
				Help: "Users with at least one live connection on this process",
			}),
			PresenceErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "presence_store_errors_total",
				Help: "Failed presence store operations",
			}),
			CallSessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "call_sessions_active",
				Help: "Call sessions currently tracked by this process",
			}),
			CallOffersRelayed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "call_offers_relayed_total",
				Help: "Call offers relayed to a callee",
			}),
			HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"method", "path", "status"}),
			HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"method", "path"}),
		}
	})
	return instance
}

// Get returns the initialized metrics, or nil before Initialize.
func Get() *Metrics {
	return instance
}
