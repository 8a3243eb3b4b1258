// Package metrics exposes prometheus collectors for the control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all control-plane collectors.
type Metrics struct {
	TransitionsTotal  *prometheus.CounterVec
	GateResults       *prometheus.CounterVec
	PolicyDecisions   *prometheus.CounterVec
	EventsPublished   prometheus.Counter
	StreamConnections prometheus.Gauge
	ReplayRefreshes   prometheus.Counter
	DroppedConns      prometheus.Counter
	InvocationSweeps  prometheus.Counter
}

// New registers all collectors against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	namespace := "conductor"

	return &Metrics{
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Total phase transitions by edge",
			},
			[]string{"from", "to"},
		),
		GateResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_results_total",
				Help:      "Resolved gate evaluations by gate and status",
			},
			[]string{"gate", "status"},
		),
		PolicyDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_decisions_total",
				Help:      "Policy decisions by rule and outcome",
			},
			[]string{"policy_id", "decision"},
		),
		EventsPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_published_total",
				Help:      "Durable stream events published",
			},
		),
		StreamConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_connections",
				Help:      "Currently registered stream connections",
			},
		),
		ReplayRefreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_replay_refreshes_total",
				Help:      "Replays abandoned with refresh_required",
			},
		),
		DroppedConns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_dropped_connections_total",
				Help:      "Connections dropped for slow or dead consumption",
			},
		),
		InvocationSweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocation_timeouts_total",
				Help:      "Tool invocations expired by the timeout sweeper",
			},
		),
	}
}
