// Package stats is the small Prometheus registry the Coordinator and its workers report
// through (spec §10 Ambient Stack): collective latency, barrier wait time, and per-worker step
// counts — observability the teacher carries in its own stats package for every xaction, applied
// here to the sync core even though the spec's Non-goals exclude nothing about metrics.
package stats

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the metrics one Coordinator run reports. A fresh Registry is constructed per
// run (design note §9: no package-level global state) and registered into whatever
// prometheus.Registerer the caller wires (the default registry, or a private one in tests).
type Registry struct {
	CollectiveLatency *prometheus.HistogramVec
	BarrierWait       prometheus.Gauge
	StepsTotal        *prometheus.CounterVec
}

// NewRegistry constructs and registers a fresh set of metrics under runID, so that concurrent
// Coordinator runs in the same process (e.g. in tests) don't collide on metric identity.
func NewRegistry(reg prometheus.Registerer, runID string) *Registry {
	r := &Registry{
		CollectiveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "aisync",
			Subsystem:   "collective",
			Name:        "latency_seconds",
			Help:        "Latency of a single Broadcast/AllReduce call, by op and backend.",
			ConstLabels: prometheus.Labels{"run_id": runID},
			Buckets:     prometheus.DefBuckets,
		}, []string{"op", "backend"}),
		BarrierWait: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "aisync",
			Subsystem:   "barrier",
			Name:        "wait_seconds",
			Help:        "Most recent hard-barrier wait duration observed by any worker.",
			ConstLabels: prometheus.Labels{"run_id": runID},
		}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "aisync",
			Subsystem:   "worker",
			Name:        "steps_total",
			Help:        "Optimization steps completed, by rank.",
			ConstLabels: prometheus.Labels{"run_id": runID},
		}, []string{"rank"}),
	}
	reg.MustRegister(r.CollectiveLatency, r.BarrierWait, r.StepsTotal)
	return r
}

// ObserveCollective records how long a Broadcast or AllReduce call took.
func (r *Registry) ObserveCollective(op, backend string, start time.Time) {
	r.CollectiveLatency.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
}

// ObserveBarrierWait records the most recent barrier wait duration.
func (r *Registry) ObserveBarrierWait(d time.Duration) {
	r.BarrierWait.Set(d.Seconds())
}

// IncStep increments the step counter for rank.
func (r *Registry) IncStep(rank int) {
	r.StepsTotal.WithLabelValues(strconv.Itoa(rank)).Inc()
}
