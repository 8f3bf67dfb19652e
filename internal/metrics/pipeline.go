package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		keywordsTotal,
		attemptsTotal,
		parseStrategyTotal,
		stageDuration,
	)
}

var (
	keywordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinscrpr_keywords_total",
			Help: "Keywords finished, by content source and success.",
		},
		[]string{"source", "success"},
	)

	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinscrpr_attempts_total",
			Help: "Download and analyze attempts by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	parseStrategyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinscrpr_parse_strategy_total",
			Help: "Parser strategy runs and whether their result passed the acceptance gate.",
		},
		[]string{"strategy", "accepted"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinscrpr_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300, 600},
		},
		[]string{"stage"},
	)
)

func KeywordFinished(source string, success bool) {
	keywordsTotal.WithLabelValues(norm(source), strconv.FormatBool(success)).Inc()
}

func Attempt(stage, outcome string) {
	attemptsTotal.WithLabelValues(norm(stage), norm(outcome)).Inc()
}

func ParseStrategy(strategy string, accepted bool) {
	parseStrategyTotal.WithLabelValues(norm(strategy), strconv.FormatBool(accepted)).Inc()
}

// ObserveStage records the time elapsed since start for stage. Usage: defer metrics.ObserveStage("download", time.Now())
func ObserveStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(norm(stage)).Observe(time.Since(start).Seconds())
}
