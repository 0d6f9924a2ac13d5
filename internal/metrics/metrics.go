// Package metrics exposes interpreter lifecycle counters to Prometheus.
// The Collector implements the engine's Observer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts interpreter events per chain.
type Collector struct {
	started    *prometheus.CounterVec
	advanced   *prometheus.CounterVec
	validation *prometheus.CounterVec
	errored    *prometheus.CounterVec
	cancelled  *prometheus.CounterVec
	completed  *prometheus.CounterVec
	active     prometheus.Gauge
}

// NewCollector creates the collector and registers it with the registerer.
// Pass prometheus.DefaultRegisterer for the global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "sessions_started_total",
			Help:      "Dialog sessions started, per chain.",
		}, []string{"chain"}),
		advanced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "steps_advanced_total",
			Help:      "Steps the interpreter moved past, per chain.",
		}, []string{"chain"}),
		validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "validation_failures_total",
			Help:      "Rejected user inputs, per chain.",
		}, []string{"chain"}),
		errored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "sessions_errored_total",
			Help:      "Sessions that entered the error state, per chain.",
		}, []string{"chain"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "sessions_cancelled_total",
			Help:      "Sessions cancelled, per chain.",
		}, []string{"chain"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "chains_completed_total",
			Help:      "Chains run to completion, per chain.",
		}, []string{"chain"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dialog",
			Name:      "sessions_active",
			Help:      "Sessions currently neither completed nor cancelled.",
		}),
	}
	reg.MustRegister(c.started, c.advanced, c.validation, c.errored, c.cancelled, c.completed, c.active)
	return c
}

func (c *Collector) SessionStarted(chainID string) {
	c.started.WithLabelValues(chainID).Inc()
	c.active.Inc()
}

func (c *Collector) StepAdvanced(chainID, stepID string) {
	c.advanced.WithLabelValues(chainID).Inc()
}

func (c *Collector) ValidationFailed(chainID, stepID string) {
	c.validation.WithLabelValues(chainID).Inc()
}

func (c *Collector) SessionErrored(chainID string) {
	c.errored.WithLabelValues(chainID).Inc()
}

func (c *Collector) SessionCancelled(chainID string) {
	c.cancelled.WithLabelValues(chainID).Inc()
	c.active.Dec()
}

func (c *Collector) ChainCompleted(chainID string) {
	c.completed.WithLabelValues(chainID).Inc()
	c.active.Dec()
}
