package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "ingest",
			Name:      "validations_total",
			Help:      "Validation outcomes by resulting status.",
		},
		[]string{"status"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mailroom",
			Subsystem: "ingest",
			Name:      "scan_duration_seconds",
			Help:      "Content scan subprocess duration.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func observeScan(d time.Duration) {
	scanDuration.Observe(d.Seconds())
}

func observeValidation(status string) {
	validationsTotal.WithLabelValues(status).Inc()
}
