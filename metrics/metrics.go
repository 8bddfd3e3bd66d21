// Package metrics provides Prometheus collectors for the media-editing
// service: admission, uploads, chat turns, WebSocket connections, and
// pipeline node execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reelkit"

var (
	// rateLimitedTotal counts denied admissions by rule.
	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests denied by admission control",
		},
		[]string{"rule"},
	)

	// wsConnectionsActive is a gauge of live WebSocket connections.
	wsConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Number of currently open WebSocket connections",
		},
	)

	// chatTurnsTotal counts completed chat turns by terminal state.
	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Total number of chat turns",
		},
		[]string{"status"}, // status: done, interrupted, error
	)

	// chatTurnDuration is a histogram of whole-turn duration.
	chatTurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_turn_duration_seconds",
			Help:      "Histogram of chat turn duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// uploadBytesTotal counts bytes accepted by upload endpoints.
	uploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total bytes accepted by media upload endpoints",
		},
	)

	// uploadsTotal counts upload operations by kind and status.
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of media uploads",
		},
		[]string{"kind", "status"}, // kind: direct, resumable; status: ok, error
	)

	// nodeDuration is a histogram of pipeline node execution duration.
	nodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of pipeline node executions in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"node"},
	)

	// nodesTotal counts pipeline node executions by terminal status.
	nodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_total",
			Help:      "Total number of pipeline node executions",
		},
		[]string{"node", "status"}, // status: done, skipped, error, cancelled
	)

	// thumbnailsTotal counts thumbnail generation attempts.
	thumbnailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnails_total",
			Help:      "Total number of thumbnail generation attempts",
		},
		[]string{"kind", "status"}, // kind: image, video; status: ok, error
	)
)

// allMetrics lists every collector for registry setup.
var allMetrics = []prometheus.Collector{
	rateLimitedTotal,
	wsConnectionsActive,
	chatTurnsTotal,
	chatTurnDuration,
	uploadBytesTotal,
	uploadsTotal,
	nodeDuration,
	nodesTotal,
	thumbnailsTotal,
}

// NewRegistry builds a registry with all service collectors plus the
// standard Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns the /metrics HTTP handler for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordRateLimited increments the denial counter for a rule.
func RecordRateLimited(rule string) {
	rateLimitedTotal.WithLabelValues(rule).Inc()
}

// WSConnectionOpened increments the live connection gauge.
func WSConnectionOpened() {
	wsConnectionsActive.Inc()
}

// WSConnectionClosed decrements the live connection gauge.
func WSConnectionClosed() {
	wsConnectionsActive.Dec()
}

// RecordChatTurn records one finished chat turn.
func RecordChatTurn(status string, duration time.Duration) {
	chatTurnsTotal.WithLabelValues(status).Inc()
	chatTurnDuration.Observe(duration.Seconds())
}

// RecordUpload records one upload operation.
func RecordUpload(kind, status string, bytes int64) {
	uploadsTotal.WithLabelValues(kind, status).Inc()
	if bytes > 0 {
		uploadBytesTotal.Add(float64(bytes))
	}
}

// RecordNode records one pipeline node execution.
func RecordNode(node, status string, duration time.Duration) {
	nodesTotal.WithLabelValues(node, status).Inc()
	nodeDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordThumbnail records a thumbnail generation attempt.
func RecordThumbnail(kind, status string) {
	thumbnailsTotal.WithLabelValues(kind, status).Inc()
}
