package session

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session collectors. A nil *Metrics records nothing.
type Metrics struct {
	Runs            *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	PersistFailures prometheus.Counter
	Deltas          prometheus.Counter
	RunDuration     prometheus.Histogram
	WindowTokens    prometheus.Histogram
	ActiveRuns      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "session",
			Name:      "runs_total",
			Help:      "Inference runs by outcome.",
		}, []string{"outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "session",
			Name:      "rejections_total",
			Help:      "Operations rejected before any state change, by reason.",
		}, []string{"reason"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "session",
			Name:      "persist_failures_total",
			Help:      "Transcript store writes that failed.",
		}),
		Deltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "session",
			Name:      "stream_deltas_total",
			Help:      "Non-empty text deltas reconciled into transcripts.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "session",
			Name:      "run_duration_seconds",
			Help:      "Time from request to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		WindowTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "session",
			Name:      "window_tokens",
			Help:      "Estimated prompt tokens of the forwarded window.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 12),
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "session",
			Name:      "active_runs",
			Help:      "Runs currently requesting or streaming.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.Runs, m.Rejections, m.PersistFailures, m.Deltas, m.RunDuration, m.WindowTokens, m.ActiveRuns,
		} {
			if err := reg.Register(c); err != nil {
				return nil, errors.Wrap(err, "could not register session metrics")
			}
		}
	}
	return m, nil
}

func (m *Metrics) run(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(seconds)
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) persistFailed() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) delta() {
	if m == nil {
		return
	}
	m.Deltas.Inc()
}

func (m *Metrics) windowTokens(n int) {
	if m == nil {
		return
	}
	m.WindowTokens.Observe(float64(n))
}

func (m *Metrics) active(delta float64) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(delta)
}
