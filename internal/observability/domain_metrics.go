package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlsage_pipeline_runs_total",
			Help: "Total pipeline runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlsage_pipeline_duration_seconds",
			Help:    "End-to-end pipeline latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlsage_cache_lookups_total",
			Help: "Cache lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)
	validatorRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlsage_validator_rejections_total",
			Help: "Total statements rejected by the safety gate.",
		},
	)
	generationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlsage_generation_retries_total",
			Help: "Total regeneration attempts after execution failures.",
		},
	)
	throttleWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlsage_throttle_wait_seconds",
			Help:    "Time spent waiting for a generation slot.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
	)
	throttleTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlsage_throttle_timeouts_total",
			Help: "Total throttle acquisitions that timed out.",
		},
	)
	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlsage_llm_tokens_total",
			Help: "Total tokens reported by language model calls.",
		},
		[]string{"purpose"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		pipelineDurationSeconds,
		cacheLookupsTotal,
		validatorRejectionsTotal,
		generationRetriesTotal,
		throttleWaitSeconds,
		throttleTimeoutsTotal,
		llmTokensTotal,
	)
}

func ObservePipelineRun(outcome string, elapsed time.Duration) {
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
	pipelineDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveCacheLookup records one cache probe; result is "hit", "miss"
// or "error".
func ObserveCacheLookup(tier, result string) {
	cacheLookupsTotal.WithLabelValues(tier, result).Inc()
}

func IncrementValidatorRejection() {
	validatorRejectionsTotal.Inc()
}

func IncrementGenerationRetry() {
	generationRetriesTotal.Inc()
}

func ObserveThrottleWait(elapsed time.Duration) {
	throttleWaitSeconds.Observe(elapsed.Seconds())
}

func IncrementThrottleTimeout() {
	throttleTimeoutsTotal.Inc()
}

func AddLLMTokens(purpose string, tokens int) {
	if tokens > 0 {
		llmTokensTotal.WithLabelValues(purpose).Add(float64(tokens))
	}
}
