package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm4sql_ask_requests_total",
			Help: "Total number of pipeline runs by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm4sql_generation_latency_ms",
			Help:    "Text generation model latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"provider"},
	)
	extractionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm4sql_extraction_fallbacks_total",
			Help: "Total number of model outputs without a recognisable SQL statement.",
		},
		[]string{"mode"},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llm4sql_query_rows_returned",
			Help:    "Number of rows returned per executed query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
	queryTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llm4sql_query_truncated_total",
			Help: "Total number of query results truncated at the row limit.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		askRequestsTotal,
		generationLatencyMs,
		extractionFallbacksTotal,
		queryRowsReturned,
		queryTruncatedTotal,
	)
}

// ObservePipeline records one pipeline run. outcome is "ok" or an error kind.
func ObservePipeline(operation, outcome string) {
	if outcome == "" {
		outcome = "ok"
	}
	askRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

func ObserveGeneration(provider string, elapsed time.Duration) {
	generationLatencyMs.WithLabelValues(provider).Observe(float64(elapsed.Milliseconds()))
}

func IncrementExtractionFallback(mode string) {
	extractionFallbacksTotal.WithLabelValues(mode).Inc()
}

func ObserveQueryRows(rows int, truncated bool) {
	if rows < 0 {
		rows = 0
	}
	queryRowsReturned.Observe(float64(rows))
	if truncated {
		queryTruncatedTotal.Inc()
	}
}
