package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ScansTotal counts scan attempts by outcome (recorded, already_recorded,
	// invalid_token, inactive, expired, not_enrolled, unauthorized, error).
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "scans_total",
		Help:      "QR scan attempts by outcome.",
	}, []string{"outcome"})

	// ActivationsTotal counts session activation attempts by outcome.
	ActivationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "activations_total",
		Help:      "Session activation attempts by outcome.",
	}, []string{"outcome"})

	// BroadcastDropped counts live events dropped because a subscriber was too slow.
	BroadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "broadcast_dropped_total",
		Help:      "Live attendance events dropped by slow subscribers.",
	})
)

func init() {
	prometheus.MustRegister(ScansTotal, ActivationsTotal, BroadcastDropped)
}
