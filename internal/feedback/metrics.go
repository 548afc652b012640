package feedback

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeGenerated       = "generated"
	outcomeUnauthenticated = "unauthenticated"
	outcomeInvalid         = "invalid_argument"
	outcomeFailed          = "failed"
)

var (
	requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentum",
		Subsystem: "feedback",
		Name:      "requests_total",
		Help:      "Feedback requests by outcome.",
	}, []string{"outcome"})

	providerLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "momentum",
		Subsystem: "feedback",
		Name:      "provider_latency_seconds",
		Help:      "Latency of generative provider calls.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(requestCounter, providerLatency)
}
