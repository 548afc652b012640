package reminder

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSent   = "sent"
	outcomeFailed = "failed"
)

var (
	sendCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentum",
		Subsystem: "reminder",
		Name:      "sends_total",
		Help:      "Reminder sends by outcome.",
	}, []string{"outcome"})

	skippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "momentum",
		Subsystem: "reminder",
		Name:      "skipped_total",
		Help:      "Users skipped because they have no notification address or already ran today.",
	})

	sendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "momentum",
		Subsystem: "reminder",
		Name:      "send_duration_seconds",
		Help:      "Latency of individual reminder sends.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "momentum",
		Subsystem: "reminder",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a full reminder run.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "momentum",
		Subsystem: "reminder",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last reminder run that enumerated every user.",
	})
)

func init() {
	prometheus.MustRegister(sendCounter, skippedCounter, sendLatency, runDuration, lastSuccess)
}
