package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elyos_fetch_calls_total",
			Help: "Total source fetch attempts",
		},
		[]string{"source", "status"},
	)

	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "elyos_fetch_latency_seconds",
			Help:    "Source fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elyos_rows_loaded_total",
			Help: "Total rows written to the store",
		},
		[]string{"table"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "elyos_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elyos_stage_failures_total",
			Help: "Total failed pipeline stage executions",
		},
		[]string{"stage"},
	)

	ModelR2 = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "elyos_model_r2",
			Help: "Held-out R² of the last trained candidates",
		},
		[]string{"model"},
	)

	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elyos_predictions_total",
			Help: "Total prediction requests by outcome",
		},
		[]string{"outcome"},
	)

	PredictionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "elyos_prediction_latency_seconds",
			Help:    "Model inference latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)
)
