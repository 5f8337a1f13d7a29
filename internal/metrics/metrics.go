package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reviewline"

var (
	// LeasesAcquired counts leases handed out, by category and source
	// (fresh, reclaim).
	LeasesAcquired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "leases_acquired_total",
		Help:      "Leases created by the allocator.",
	}, []string{"category", "source"})

	LeasesRefreshed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "leases_refreshed_total",
		Help:      "Held leases whose expiry was extended.",
	}, []string{"category"})

	LeaseConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "lease_conflicts_total",
		Help:      "Lease creations lost to a concurrent reviewer.",
	}, []string{"category"})

	LeasesReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "leases_released_total",
		Help:      "Leases removed by explicit release.",
	})

	DecisionsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "committer",
		Name:      "decisions_applied_total",
		Help:      "Review decisions committed.",
	}, []string{"category", "action"})

	CommitRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "committer",
		Name:      "batches_rejected_total",
		Help:      "Commit batches refused before any mutation.",
	}, []string{"reason"})

	SideEffectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "committer",
		Name:      "side_effect_failures_total",
		Help:      "Notification or content operations that failed after commit.",
	}, []string{"kind"})
)

var registerOnce sync.Once

// Register adds the collectors to reg once per process.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			LeasesAcquired,
			LeasesRefreshed,
			LeaseConflicts,
			LeasesReleased,
			DecisionsApplied,
			CommitRejected,
			SideEffectFailures,
		)
	})
}
