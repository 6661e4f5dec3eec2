// Package metrics exposes the engine's operational counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Transitions      *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	VersionConflicts prometheus.Counter
	LockContention   prometheus.Counter
	EventRetries     prometheus.Counter
	Overrides        prometheus.Counter
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taller",
			Name:      "transitions_total",
			Help:      "Successful state transitions by operation and action.",
		}, []string{"operacion", "accion"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taller",
			Name:      "transition_failures_total",
			Help:      "Rejected or failed requests by error kind.",
		}, []string{"kind"}),
		VersionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taller",
			Name:      "version_conflicts_total",
			Help:      "Optimistic version token mismatches.",
		}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taller",
			Name:      "lock_contention_total",
			Help:      "Acquire attempts rejected because another worker holds the spool.",
		}),
		EventRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taller",
			Name:      "event_append_retries_total",
			Help:      "Retries of event journal appends after a successful row write.",
		}),
		Overrides: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taller",
			Name:      "supervisor_overrides_total",
			Help:      "Out-of-band supervisor overrides detected.",
		}),
	}
	reg.MustRegister(
		m.Transitions, m.Failures, m.VersionConflicts,
		m.LockContention, m.EventRetries, m.Overrides,
	)
	return m
}

// NewNop creates unregistered collectors for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
