// Package metrics defines the Prometheus collectors for the bonus engine.
// A nil *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bonus"

type Collectors struct {
	syncRuns         *prometheus.CounterVec
	statusChanges    *prometheus.CounterVec
	paymentUpdates   *prometheus.CounterVec
	eventsUpdated    *prometheus.CounterVec
	aggregation      prometheus.Histogram
	anomalies        *prometheus.CounterVec
	partsImported    *prometheus.CounterVec
	entriesSubmitted *prometheus.CounterVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_sync_runs_total",
			Help:      "Part status reconciliation runs by trigger and result.",
		}, []string{"trigger", "result"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_status_changes_total",
			Help:      "Part status flips applied by reconciliation.",
		}, []string{"direction"}),
		paymentUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_updates_total",
			Help:      "Quarter payment updates by target status and result.",
		}, []string{"status", "result"}),
		eventsUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_updated_total",
			Help:      "Entry events written by payment updates.",
		}, []string{"status"}),
		aggregation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Time to group events into quarterly buckets.",
			Buckets:   prometheus.DefBuckets,
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_anomalies_total",
			Help:      "Inconsistent or dangling rows seen during aggregation.",
		}, []string{"kind"}),
		partsImported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_imported_total",
			Help:      "Catalog import rows by outcome.",
		}, []string{"outcome"}),
		entriesSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_submitted_total",
			Help:      "Part entry submissions by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(
			c.syncRuns, c.statusChanges, c.paymentUpdates, c.eventsUpdated,
			c.aggregation, c.anomalies, c.partsImported, c.entriesSubmitted,
		)
	}
	return c
}

func (c *Collectors) SyncRun(trigger string, err error, toTrue, toFalse int) {
	if c == nil {
		return
	}
	c.syncRuns.WithLabelValues(trigger, result(err)).Inc()
	c.statusChanges.WithLabelValues("to_true").Add(float64(toTrue))
	c.statusChanges.WithLabelValues("to_false").Add(float64(toFalse))
}

func (c *Collectors) PaymentUpdate(status string, err error, events int) {
	if c == nil {
		return
	}
	c.paymentUpdates.WithLabelValues(status, result(err)).Inc()
	if err == nil {
		c.eventsUpdated.WithLabelValues(status).Add(float64(events))
	}
}

func (c *Collectors) ObserveAggregation(d time.Duration) {
	if c == nil {
		return
	}
	c.aggregation.Observe(d.Seconds())
}

func (c *Collectors) Anomaly(kind string) {
	if c == nil {
		return
	}
	c.anomalies.WithLabelValues(kind).Inc()
}

func (c *Collectors) Import(added, skipped int) {
	if c == nil {
		return
	}
	c.partsImported.WithLabelValues("added").Add(float64(added))
	c.partsImported.WithLabelValues("skipped").Add(float64(skipped))
}

func (c *Collectors) Entry(err error) {
	if c == nil {
		return
	}
	c.entriesSubmitted.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
