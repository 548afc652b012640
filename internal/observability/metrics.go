// Package observability holds process-wide Prometheus collectors for the goal engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentum",
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Number of committed goal-cycle transitions, labeled by kind.",
	}, []string{"kind"})

	conflictCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentum",
		Subsystem: "engine",
		Name:      "write_conflicts_total",
		Help:      "Number of conditional writes that lost against a concurrent writer.",
	}, []string{"kind"})

	runConfirmedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "momentum",
		Subsystem: "engine",
		Name:      "last_run_confirmed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent confirmed run.",
	})
)

func init() {
	prometheus.MustRegister(transitionCounter, conflictCounter, runConfirmedGauge)
}

// RecordTransition counts a committed transition.
func RecordTransition(kind string) {
	transitionCounter.WithLabelValues(kind).Inc()
}

// RecordConflict counts a lost conditional write.
func RecordConflict(kind string) {
	conflictCounter.WithLabelValues(kind).Inc()
}

// RecordRunConfirmed updates the confirmed-run watermark gauge.
func RecordRunConfirmed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	runConfirmedGauge.Set(float64(ts.Unix()))
}
