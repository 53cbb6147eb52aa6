// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "fredyield_"

var (
	// ImportsAccepted counts committed import batches.
	ImportsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "imports_accepted_total",
		Help: "Import batches committed",
	})
	// ImportsRejected counts imports rejected by validation or allocation.
	ImportsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "imports_rejected_total",
		Help: "Import batches rejected",
	})
	// BatchesReplaced counts re-uploads that superseded a prior batch.
	BatchesReplaced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "batches_replaced_total",
		Help: "Import batches that replaced a prior upload",
	})
	// AccrualEventsApplied counts accrual periods credited.
	AccrualEventsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "accrual_events_applied_total",
		Help: "Accrual events applied to yield deposits",
	})
	// ReplacementRacesLost counts reconciliations that lost a concurrent commit.
	ReplacementRacesLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "replacement_races_lost_total",
		Help: "Reconciliations that lost a concurrent batch commit",
	})
)

func init() {
	prometheus.MustRegister(ImportsAccepted, ImportsRejected, BatchesReplaced, AccrualEventsApplied, ReplacementRacesLost)
}
