package firestore

import "github.com/prometheus/client_golang/prometheus"

var decodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "momentum",
	Subsystem: "firestore",
	Name:      "undecodable_documents_total",
	Help:      "User documents skipped during enumeration because they could not be decoded.",
})

func init() {
	prometheus.MustRegister(decodeFailures)
}
