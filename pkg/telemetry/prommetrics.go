package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// These mirror the teacher's pkg/orchestrator/metrics.go package-level
// promauto registrations — a handful of counters/histograms recording the
// shape of the attempt loop rather than a generic custom registry.
var (
	metricAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "applyharness",
		Name:      "attempts_total",
		Help:      "Number of harness attempts, labeled by outcome.",
	}, []string{"outcome"})

	metricAttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "applyharness",
		Name:      "attempt_duration_seconds",
		Help:      "Wall-clock duration of one harness attempt.",
		Buckets:   prometheus.DefBuckets,
	})

	metricLLMCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "applyharness",
		Name:      "llm_calls_total",
		Help:      "Number of LLM gateway calls, labeled by call kind and model.",
	}, []string{"kind", "model"})

	metricQuickCheckOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "applyharness",
		Name:      "quick_check_outcome_total",
		Help:      "Number of quick-check runs, labeled by outcome status.",
	}, []string{"status"})

	metricReviewBlockingFindings = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "applyharness",
		Name:      "review_blocking_findings",
		Help:      "Blocking findings remaining after a review round completes.",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
	})
)

// RecordAttempt increments the attempt counter for outcome ("passed" or
// "failed") and observes its elapsed duration in seconds.
func RecordAttempt(outcome string, elapsedSeconds float64) {
	metricAttemptsTotal.WithLabelValues(outcome).Inc()
	metricAttemptDuration.Observe(elapsedSeconds)
}

// RecordLLMCall increments the LLM call counter for the given call kind
// (e.g. "generation", "generation_escalated", "review") and model.
func RecordLLMCall(kind, model string) {
	metricLLMCallsTotal.WithLabelValues(kind, model).Inc()
}

// RecordQuickCheckOutcome increments the quick-check outcome counter for
// the given status ("passed", "failed", "unavailable").
func RecordQuickCheckOutcome(status string) {
	metricQuickCheckOutcomeTotal.WithLabelValues(status).Inc()
}

// RecordReviewBlockingFindings observes the number of blocking findings
// remaining after one review round.
func RecordReviewBlockingFindings(count int) {
	metricReviewBlockingFindings.Observe(float64(count))
}
