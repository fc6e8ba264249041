// Package monitoring exposes Prometheus metrics for portal automation and
// watches verification history for degraded portals.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
)

const namespace = "clearverify"

// Metrics records automation and verification outcomes. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	activeSessions prometheus.Gauge
	sessions       *prometheus.CounterVec
	stepFailures   *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	portalsLearned prometheus.Counter
}

// NewMetrics creates the metric set and registers it with reg. Passing
// prometheus.DefaultRegisterer exposes the metrics on the default /metrics
// handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Automation sessions currently holding a browser page.",
		}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished automation sessions by final status.",
		}, []string{"status"}),
		stepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Failed automation steps by step kind and failure kind.",
		}, []string{"step", "kind"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification attempts by outcome and failure category.",
		}, []string{"outcome", "category"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Wall time of automated verifications.",
			Buckets:   []float64{1, 2.5, 5, 10, 15, 20, 30, 45, 60},
		}, []string{"outcome"}),
		portalsLearned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "portals_learned_total",
			Help:      "Portals that passed a learning test.",
		}),
	}
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionFinished decrements the active session gauge and counts the final
// status.
func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessions.WithLabelValues(status).Inc()
}

// StepFailed counts a failed step.
func (m *Metrics) StepFailed(step string, kind failure.Kind) {
	if m == nil {
		return
	}
	m.stepFailures.WithLabelValues(step, string(kind)).Inc()
}

// Verification counts a verification outcome and observes its latency.
func (m *Metrics) Verification(success bool, kind failure.Kind, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome, category := "success", ""
	if !success {
		outcome, category = "failure", string(failure.CategoryOf(kind))
	}
	m.verifications.WithLabelValues(outcome, category).Inc()
	m.latency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// PortalLearned counts a newly learned portal.
func (m *Metrics) PortalLearned() {
	if m == nil {
		return
	}
	m.portalsLearned.Inc()
}
