package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Processed attachments by terminal status and confidence level.",
		},
		[]string{"status", "level"},
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailroom",
			Subsystem: "pipeline",
			Name:      "processing_duration_seconds",
			Help:      "End-to-end attachment processing duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

func observeOutcome(status, level string, d time.Duration) {
	outcomesTotal.WithLabelValues(status, level).Inc()
	processingDuration.WithLabelValues(status).Observe(d.Seconds())
}
