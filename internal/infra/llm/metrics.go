package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	completionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_completions_total",
			Help: "Total number of text generation requests by provider and result",
		},
		[]string{"provider", "result"},
	)

	completionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "Time taken by text generation requests, retries included",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)
)

func recordCompletion(provider string, success bool, d time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	completionsTotal.WithLabelValues(provider, result).Inc()
	completionDuration.WithLabelValues(provider).Observe(d.Seconds())
}
