package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 分析结果标签
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeStale       = "stale"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "junction_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	AnalysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_analysis_total",
			Help: "Conversation analysis passes by outcome",
		},
		[]string{"character", "outcome"},
	)

	AnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "junction_analysis_latency_seconds",
			Help:    "Latency of the judgment service call",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15},
		},
	)

	TriggersDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_analysis_triggers_dropped_total",
			Help: "Analysis triggers dropped because one was already in flight",
		},
		[]string{"character"},
	)

	ObjectivesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_objectives_completed_total",
			Help: "Objectives newly marked completed",
		},
		[]string{"character"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "junction_active_streams",
			Help: "Number of open browser streams",
		},
	)
)
