// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthzDecisions counts gate outcomes.
	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Authorization gate decisions",
		},
		[]string{"kind", "decision"}, // kind: permission, role, action
	)

	// RoleGrantChanges counts grant rows written or removed.
	RoleGrantChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "rbac",
			Name:      "grant_changes_total",
			Help:      "Permission grants added or removed",
		},
		[]string{"op"}, // op: grant, revoke
	)

	// DBOperationDuration tracks repository call latency.
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "helpdesk",
			Subsystem: "db",
			Name:      "operation_duration_seconds",
			Help:      "Database operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"table", "operation"},
	)

	// DBOperationTotal counts repository calls by result.
	DBOperationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "db",
			Name:      "operations_total",
			Help:      "Total database operations",
		},
		[]string{"table", "operation", "result"},
	)

	// NotificationClients tracks open websocket subscriptions.
	NotificationClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "helpdesk",
			Subsystem: "notifications",
			Name:      "clients",
			Help:      "Connected notification websocket clients",
		},
	)
)
