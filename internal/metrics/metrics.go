// Package metrics holds the Prometheus instruments for the confirmation
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every pipeline instrument.
type Metrics struct {
	ActionsSubmitted *prometheus.CounterVec
	ActionsResolved  *prometheus.CounterVec
	PendingActions   prometheus.Gauge
	DecisionLatency  *prometheus.HistogramVec

	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration prometheus.Histogram

	RPCRequests *prometheus.CounterVec
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActionsSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reva_actions_submitted_total",
				Help: "Actions submitted for review",
			},
			[]string{"name"},
		),
		ActionsResolved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reva_actions_resolved_total",
				Help: "Actions resolved by a reviewer",
			},
			[]string{"name", "outcome"}, // outcome: accepted, rejected, failed
		),
		PendingActions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "reva_actions_pending",
				Help: "Actions awaiting a reviewer decision",
			},
		),
		DecisionLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reva_action_decision_seconds",
				Help:    "Time from submission to reviewer decision",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 3600},
			},
			[]string{"outcome"},
		),
		TransactionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reva_transactions_total",
				Help: "Program transactions by result",
			},
			[]string{"result"}, // result: committed, aborted
		),
		TransactionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reva_transaction_duration_seconds",
				Help:    "Time a program transaction stays open",
				Buckets: prometheus.DefBuckets,
			},
		),
		RPCRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reva_rpc_requests_total",
				Help: "gRPC requests by method and status code",
			},
			[]string{"method", "code"},
		),
	}
}

// RecordSubmitted counts a new pending action.
func (m *Metrics) RecordSubmitted(name string) {
	if m == nil {
		return
	}
	m.ActionsSubmitted.WithLabelValues(name).Inc()
	m.PendingActions.Inc()
}

// RecordResolved counts a decision and observes how long it waited.
func (m *Metrics) RecordResolved(name, outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	m.ActionsResolved.WithLabelValues(name, outcome).Inc()
	m.PendingActions.Dec()
	m.DecisionLatency.WithLabelValues(outcome).Observe(waited.Seconds())
}

// RecordTransaction counts a closed transaction.
func (m *Metrics) RecordTransaction(committed bool, open time.Duration) {
	if m == nil {
		return
	}
	result := "aborted"
	if committed {
		result = "committed"
	}
	m.TransactionsTotal.WithLabelValues(result).Inc()
	m.TransactionDuration.Observe(open.Seconds())
}

// RecordRPC counts a finished gRPC call.
func (m *Metrics) RecordRPC(method, code string) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(method, code).Inc()
}
