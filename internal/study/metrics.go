package study

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Study outcomes reported by hypertune_studies_total.
const (
	OutcomeCompleted = "completed"
	OutcomeTruncated = "truncated"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Metrics holds the Prometheus collectors updated by runners. A nil *Metrics
// records nothing.
type Metrics struct {
	trials   *prometheus.CounterVec
	duration prometheus.Histogram
	bestLoss *prometheus.GaugeVec
	studies  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hypertune_trials_total",
			Help: "Number of evaluated trials by state.",
		}, []string{"state"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hypertune_trial_duration_seconds",
			Help:    "Wall time of one trial evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		bestLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hypertune_best_loss",
			Help: "Lowest loss recorded so far per study.",
		}, []string{"study"}),
		studies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hypertune_studies_total",
			Help: "Number of finished studies by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.trials, m.duration, m.bestLoss, m.studies)
	}
	return m
}

func (m *Metrics) observeTrial(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.trials.WithLabelValues(state).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) setBestLoss(study string, loss float64) {
	if m == nil {
		return
	}
	m.bestLoss.WithLabelValues(study).Set(loss)
}

func (m *Metrics) observeStudy(outcome string) {
	if m == nil {
		return
	}
	m.studies.WithLabelValues(outcome).Inc()
}
