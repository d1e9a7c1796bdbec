// Package metrics exposes Prometheus instruments for the ledger engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submit outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

type Recorder struct {
	registry *prometheus.Registry
	submits  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRecorder registers the ledger instruments on a fresh registry along
// with the Go runtime and process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: registry,
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "submit_total",
			Help:      "Submitted transactions by type and outcome.",
		}, []string{"type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "submit_duration_seconds",
			Help:      "Time spent in Submit, including the atomic scope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
	registry.MustRegister(r.submits, r.duration)
	return r
}

// ObserveSubmit is safe to call on a nil Recorder.
func (r *Recorder) ObserveSubmit(txType, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	if txType == "" {
		txType = "unknown"
	}
	r.submits.WithLabelValues(txType, outcome).Inc()
	r.duration.WithLabelValues(txType).Observe(elapsed.Seconds())
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
