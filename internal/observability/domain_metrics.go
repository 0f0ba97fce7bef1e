package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	analysisRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_analysis_requests_total",
			Help: "Total number of analysis requests by terminal status.",
		},
		[]string{"status"},
	)
	analysisAttemptsPerRequest = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insight_analysis_attempts_per_request",
			Help:    "Number of generation attempts consumed per analysis request.",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
	)
	verificationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_verification_rejections_total",
			Help: "Total number of candidate queries rejected by the safety gate.",
		},
		[]string{"reason"},
	)
	queryExecutionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insight_query_execution_seconds",
			Help:    "Warehouse query execution latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	providerCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insight_provider_call_seconds",
			Help:    "Model provider call latency by operation.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"operation", "outcome"},
	)
	schemaCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_schema_cache_lookups_total",
			Help: "Schema snapshot cache lookups by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		analysisRequestsTotal,
		analysisAttemptsPerRequest,
		verificationRejectionsTotal,
		queryExecutionSeconds,
		providerCallSeconds,
		schemaCacheLookupsTotal,
	)
}

func ObserveAnalysis(status string, attempts int) {
	analysisRequestsTotal.WithLabelValues(status).Inc()
	if attempts > 0 {
		analysisAttemptsPerRequest.Observe(float64(attempts))
	}
}

func IncrementVerificationRejection(reason string) {
	verificationRejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveQueryExecution(elapsed time.Duration) {
	queryExecutionSeconds.Observe(elapsed.Seconds())
}

func ObserveProviderCall(operation, outcome string, elapsed time.Duration) {
	providerCallSeconds.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func IncrementSchemaCacheLookup(outcome string) {
	schemaCacheLookupsTotal.WithLabelValues(outcome).Inc()
}
