package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// controlFallbacks counts comparisons returned without a metric pivot.
	// Labels: scope (overall, segment)
	controlFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "abverdict",
		Subsystem: "analysis",
		Name:      "control_fallbacks_total",
		Help:      "Comparisons returned without a metric pivot (no usable control or several rows per cohort)",
	}, []string{"scope"})

	// segmentsPerDeepDive is the number of segments discovered per deep dive.
	segmentsPerDeepDive = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "abverdict",
		Subsystem: "analysis",
		Name:      "segments_per_deep_dive",
		Help:      "Segments discovered per deep dive",
		Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
	})

	// llmCalls counts commentary model calls.
	// Labels: kind (overall, segment, summary), outcome (ok, error)
	llmCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "abverdict",
		Subsystem: "commentary",
		Name:      "llm_calls_total",
		Help:      "Commentary model calls by kind and outcome",
	}, []string{"kind", "outcome"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "abverdict",
		Subsystem: "commentary",
		Name:      "llm_latency_seconds",
		Help:      "Commentary model call latency in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"kind"})

	// fetchErrors counts failed query service requests.
	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "abverdict",
		Subsystem: "query",
		Name:      "fetch_errors_total",
		Help:      "Failed query service requests",
	})
)

func observeLLMCall(kind string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	llmCalls.WithLabelValues(kind, outcome).Inc()
	llmLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}
