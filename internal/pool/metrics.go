package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	workersSpawnedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "workers_spawned_total",
			Help:      "Total workers spawned",
		},
		[]string{"key"},
	)

	workersEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "workers_evicted_total",
			Help:      "Total workers torn down, by reason",
		},
		[]string{"key", "reason"},
	)

	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "dispatches_total",
			Help:      "Dispatch outcomes per pool",
		},
		[]string{"key", "outcome"},
	)

	memoryReservedMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Subsystem: "memory",
			Name:      "reserved_mb",
			Help:      "Logical memory reserved by live allocation claims",
		},
	)

	breakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"key"},
	)
)

func init() {
	prometheus.MustRegister(
		workersSpawnedTotal,
		workersEvictedTotal,
		dispatchesTotal,
		memoryReservedMB,
		breakerStateGauge,
	)
}
