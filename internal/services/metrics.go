package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Promotion pipeline
	PromotionsApplied *prometheus.CounterVec
	PromotionsRefused *prometheus.CounterVec
	PromotionLatency  prometheus.Histogram

	// Context assembly
	ContextBuilds       prometheus.Counter
	ContextBuildLatency prometheus.Histogram
	ExpertLayerInjected *prometheus.CounterVec

	// Profile integrity
	DirectWriteViolations *prometheus.CounterVec

	// WebSocket chat ingestion
	WebSocketConnections prometheus.Gauge
	WebSocketMessages    *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		PromotionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lens0_promotions_applied_total",
			Help: "Total promotions applied to expert profiles, by expert and source",
		}, []string{"expert", "source"}),

		PromotionsRefused: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lens0_promotions_refused_total",
			Help: "Total promotions refused, by expert and reason",
		}, []string{"expert", "reason"}),

		PromotionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lens0_promotion_duration_seconds",
			Help:    "Promotion job processing latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		ContextBuilds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lens0_context_builds_total",
			Help: "Total context assemblies performed",
		}),

		ContextBuildLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lens0_context_build_duration_seconds",
			Help:    "Context assembly latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		ExpertLayerInjected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lens0_expert_layer_injected_total",
			Help: "Context assemblies that injected an expert layer, by expert",
		}, []string{"expert"}),

		DirectWriteViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lens0_profile_direct_write_violations_total",
			Help: "Expert profile writes detected outside the promotion pipeline, by expert",
		}, []string{"expert"}),

		// WebSocket active connections (gauge - can go up and down)
		WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lens0_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),

		WebSocketMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lens0_websocket_messages_total",
			Help: "Total number of WebSocket messages by type",
		}, []string{"type", "direction"}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordPromotionApplied records a promotion applied to a profile
func (m *Metrics) RecordPromotionApplied(expert, source string) {
	m.PromotionsApplied.WithLabelValues(expert, source).Inc()
}

// RecordPromotionRefused records a refused promotion
func (m *Metrics) RecordPromotionRefused(expert, reason string) {
	m.PromotionsRefused.WithLabelValues(expert, reason).Inc()
}

// RecordPromotionLatency records promotion processing latency
func (m *Metrics) RecordPromotionLatency(seconds float64) {
	m.PromotionLatency.Observe(seconds)
}

// RecordContextBuild records a context assembly
func (m *Metrics) RecordContextBuild(seconds float64) {
	m.ContextBuilds.Inc()
	m.ContextBuildLatency.Observe(seconds)
}

// RecordExpertLayerInjected records an expert layer injection
func (m *Metrics) RecordExpertLayerInjected(expert string) {
	m.ExpertLayerInjected.WithLabelValues(expert).Inc()
}

// RecordDirectWriteViolation records an out-of-pipeline profile write
func (m *Metrics) RecordDirectWriteViolation(expert string) {
	m.DirectWriteViolations.WithLabelValues(expert).Inc()
}

// RecordWebSocketConnect records a new WebSocket connection
func (m *Metrics) RecordWebSocketConnect() {
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection
func (m *Metrics) RecordWebSocketDisconnect() {
	m.WebSocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.WebSocketMessages.WithLabelValues(msgType, direction).Inc()
}
