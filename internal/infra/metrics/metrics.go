// Package metrics provides the Prometheus collectors for the jukebox.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts inbound events by origin, kind and outcome.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagbox_events_total",
			Help: "Inbound events handled by the arbitration core",
		},
		[]string{"origin", "kind", "outcome"},
	)

	// DiscardedTotal counts messages dropped before reaching the core.
	DiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagbox_intake_discarded_total",
			Help: "Intake messages discarded before reaching the core",
		},
		[]string{"channel", "reason"},
	)

	// TransportErrors counts failed transport commands.
	TransportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagbox_transport_errors_total",
			Help: "Transport commands that returned an error",
		},
		[]string{"command"},
	)

	// ResolveDuration observes resolver latency.
	ResolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagbox_resolve_duration_seconds",
			Help:    "Time taken to resolve a program into playable locations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"origin", "result"},
	)

	// QueueDepth reports the intake queue length after each drain.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagbox_intake_queue_depth",
			Help: "Events waiting in the intake queue",
		},
	)

	// Playing is 1 while the core is in the Playing state.
	Playing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagbox_playing",
			Help: "1 while a program is playing, 0 when idle",
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(EventsTotal, DiscardedTotal, TransportErrors, ResolveDuration, QueueDepth, Playing)
	})
}

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
