// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pagewatch"

var (
	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// DBPoolConnections tracks database connection pool state.
	DBPoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "pool_connections",
			Help:      "Number of database connections by state",
		},
		[]string{"state"},
	)

	// IncidentsCreated counts incidents by severity and origin.
	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "created_total",
			Help:      "Incidents created, by severity and origin",
		},
		[]string{"severity", "origin"},
	)

	// IncidentTransitions counts state transitions by kind and outcome.
	IncidentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "transitions_total",
			Help:      "Incident state transition attempts, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// AlarmsDropped counts alarms dropped without creating an incident.
	// Resolution failures (no team, no on-call) are configuration gaps
	// and must be visible here.
	AlarmsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "alarms_dropped_total",
			Help:      "Alarms dropped without creating an incident, by reason",
		},
		[]string{"reason"},
	)

	// ChangeFeedPending tracks unprocessed change-feed rows.
	ChangeFeedPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "pending",
			Help:      "Change events committed but not yet processed by the notifier",
		},
	)
)
