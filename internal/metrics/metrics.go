// Package metrics provides Prometheus metrics for clustering runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kmeans"

var (
	// RestartsTotal counts completed restarts per strategy.
	RestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Total restarts run to convergence",
		},
		[]string{"strategy"}, // seq/group/rep
	)

	// Iterations tracks the number of assignment steps per restart.
	Iterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iterations",
			Help:      "Assignment steps per restart",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"strategy"},
	)

	// EmptyClustersTotal counts update steps that left a cluster without points.
	EmptyClustersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_clusters_total",
			Help:      "Total clusters found empty during centroid updates",
		},
		[]string{"strategy"},
	)

	// BestCost tracks the lowest cost reported by the last run.
	BestCost = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_cost",
			Help:      "Lowest total squared distance of the last run",
		},
		[]string{"strategy"},
	)

	// RunDuration tracks the time spent in the clustering core.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Clustering run duration in seconds, excluding input and output",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		},
		[]string{"strategy", "substrate"},
	)

	// CollectiveOps tracks collective operations per substrate.
	CollectiveOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collective_ops_total",
			Help:      "Total collective operations",
		},
		[]string{"substrate", "op", "status"}, // status: success/error
	)

	// CollectiveLatency tracks time spent blocked in collective operations.
	CollectiveLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collective_latency_seconds",
			Help:      "Collective operation latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12),
		},
		[]string{"substrate", "op"},
	)

	// WireBytes tracks bytes moved by the message-passing substrate.
	WireBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wire_bytes_total",
			Help:      "Total frame bytes sent and received",
		},
		[]string{"direction"}, // sent/received
	)

	// ObjectStoreOps tracks object store operations.
	ObjectStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objectstore_ops_total",
			Help:      "Total object store operations",
		},
		[]string{"operation", "status"}, // operation: get/put/head/delete
	)

	// ObjectStoreLatency tracks object store operation latency.
	ObjectStoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "objectstore_latency_seconds",
			Help:      "Object store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveRestart records one converged restart.
func ObserveRestart(strategy string, iterations, emptyClusters int) {
	RestartsTotal.WithLabelValues(strategy).Inc()
	Iterations.WithLabelValues(strategy).Observe(float64(iterations))
	if emptyClusters > 0 {
		EmptyClustersTotal.WithLabelValues(strategy).Add(float64(emptyClusters))
	}
}

// ObserveRun records a finished run.
func ObserveRun(strategy, substrate string, seconds, cost float64) {
	RunDuration.WithLabelValues(strategy, substrate).Observe(seconds)
	BestCost.WithLabelValues(strategy).Set(cost)
}

// ObserveCollective records a collective operation.
func ObserveCollective(substrate, op string, seconds float64, err error) {
	CollectiveOps.WithLabelValues(substrate, op, status(err)).Inc()
	CollectiveLatency.WithLabelValues(substrate, op).Observe(seconds)
}

// AddWireBytes records frame traffic.
func AddWireBytes(direction string, n int) {
	WireBytes.WithLabelValues(direction).Add(float64(n))
}

// ObserveObjectStoreOp records an object store operation.
func ObserveObjectStoreOp(operation string, latencySeconds float64, err error) {
	ObjectStoreOps.WithLabelValues(operation, status(err)).Inc()
	ObjectStoreLatency.WithLabelValues(operation).Observe(latencySeconds)
}
