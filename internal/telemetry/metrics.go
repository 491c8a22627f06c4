package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vp_app_api_requests_total",
		Help: "HTTP API requests",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vp_app_api_request_duration_seconds",
		Help:    "HTTP API request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vp_app_api_active_connections",
		Help: "In-flight HTTP requests",
	})

	// WebSocketConnections tracks connected WebSocket observers.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vp_app_websocket_connections",
		Help: "Connected WebSocket clients",
	})

	// TCPConnections tracks live TCP control connections.
	TCPConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vp_app_tcp_connections",
		Help: "Live TCP control connections",
	})

	// CommandsTotal counts normalized control commands by source surface.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vp_app_commands_total",
		Help: "Control commands dispatched",
	}, []string{"source", "command"})

	// EngineEventsTotal counts parsed engine events by type.
	EngineEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vp_app_engine_events_total",
		Help: "Engine events received",
	}, []string{"type"})

	// EngineEventsDropped counts events dropped by duplicate suppression.
	EngineEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vp_app_engine_events_dropped_total",
		Help: "Engine events dropped as duplicates",
	}, []string{"type"})

	// EngineUp reports whether the engine subprocess is running.
	EngineUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vp_app_engine_up",
		Help: "1 when the playback engine subprocess is running",
	})

	// BroadcastsTotal counts state delta publications by key.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vp_app_broadcasts_total",
		Help: "State delta broadcasts",
	}, []string{"key"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
