package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(llmCallsTotal, llmLatency)
}

var (
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinscrpr_llm_calls_total",
			Help: "Generation API calls by provider and success.",
		},
		[]string{"provider", "success"},
	)

	llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinscrpr_llm_call_duration_seconds",
			Help:    "Generation API latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"provider"},
	)
)

func LLMCall(provider string, success bool, seconds float64) {
	llmCallsTotal.WithLabelValues(norm(provider), strconv.FormatBool(success)).Inc()
	llmLatency.WithLabelValues(norm(provider)).Observe(seconds)
}
