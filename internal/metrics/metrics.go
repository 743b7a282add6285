// Package metrics exposes replay counters in Prometheus form. Runs are batch
// jobs, so the registry is written to a node-exporter textfile at the end
// instead of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Record results.
const (
	ResultAccepted    = "accepted"
	ResultIgnored     = "ignored"
	ResultMalformed   = "malformed"
	ResultPending     = "pending"
	ResultDecodeError = "decode_error"
	ResultQueued      = "queued"
	ResultDropped     = "dropped"
)

// Metrics is safe for concurrent use by the runs of a sweep. A nil *Metrics
// discards everything.
type Metrics struct {
	reg *prometheus.Registry

	epochs      *prometheus.CounterVec
	invocations *prometheus.CounterVec
	records     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	convergence *prometheus.GaugeVec
	epochTime   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gnss_replay_epochs_total",
			Help: "Observation epochs processed.",
		}, []string{"site"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gnss_replay_solver_invocations_total",
			Help: "Solver calls by kind (process while ready, idle while starved).",
		}, []string{"site", "kind"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gnss_replay_correction_records_total",
			Help: "Correction records by stream and outcome.",
		}, []string{"site", "stream", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gnss_replay_readiness_transitions_total",
			Help: "Readiness gate state changes by target state.",
		}, []string{"site", "to"}),
		convergence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gnss_replay_convergence_seconds",
			Help: "Time to convergence of the last completed run per site.",
		}, []string{"site"}),
		epochTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gnss_replay_epoch_duration_seconds",
			Help:    "Wall time spent per epoch, correction query to solver return.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
	m.reg.MustRegister(m.epochs, m.invocations, m.records, m.transitions, m.convergence, m.epochTime)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Epoch(site string, took time.Duration) {
	if m == nil {
		return
	}
	m.epochs.WithLabelValues(site).Inc()
	m.epochTime.Observe(took.Seconds())
}

func (m *Metrics) Invocation(site, kind string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(site, kind).Inc()
}

func (m *Metrics) Records(site, stream, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(site, stream, result).Add(float64(n))
}

func (m *Metrics) Transition(site, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(site, to).Inc()
}

func (m *Metrics) Converged(site string, ttc time.Duration) {
	if m == nil {
		return
	}
	m.convergence.WithLabelValues(site).Set(ttc.Seconds())
}

// WriteTextfile writes the registry in text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
