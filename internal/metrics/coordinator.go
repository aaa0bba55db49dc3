package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
)

// Phases reported by the coordinator.
var phases = []string{"idle", "merging", "saving"}

var (
	coordinatorPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "phase",
		Help:      "1 for the phase the coordinator is in, 0 otherwise.",
	}, []string{"phase"})
	coordinatorCheckpoint = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "checkpoint",
		Help:      "Last committed checkpoint values.",
	}, []string{"name"})
	coordinatorBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "blocks_total",
		Help:      "Count of blocks processed per phase.",
	}, []string{"phase", "status"})
	coordinatorBlockDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "block_duration_seconds",
		Help:      "Duration of processing one block per phase.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase", "status"})
	coordinatorTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "transactions_total",
		Help:      "Count of transactions processed per phase.",
	}, []string{"phase"})
	clustersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cluster_engine",
		Name:      "created_total",
		Help:      "Count of cluster ids allocated.",
	})
	clustersMergedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cluster_engine",
		Name:      "merged_total",
		Help:      "Count of clusters forwarded into another cluster.",
	})
)

// Coordinator tracks the import coordinator.
type Coordinator struct{}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// SetPhase marks phase as the current one.
func (Coordinator) SetPhase(phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		coordinatorPhase.WithLabelValues(p).Set(v)
	}
}

// SetCheckpoints publishes the last committed checkpoints.
func (Coordinator) SetCheckpoints(cp model.Checkpoints) {
	coordinatorCheckpoint.WithLabelValues("last_merged_height").Set(float64(cp.LastMergedHeight))
	coordinatorCheckpoint.WithLabelValues("last_saved_tx_height").Set(float64(cp.LastSavedTxHeight))
	coordinatorCheckpoint.WithLabelValues("last_saved_tx_n").Set(float64(cp.LastSavedTxN))
	coordinatorCheckpoint.WithLabelValues("next_cluster_id").Set(float64(cp.NextClusterID))
}

// ObserveBlock records one block outcome in phase.
func (Coordinator) ObserveBlock(phase string, err error, txs int, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	coordinatorBlocksTotal.WithLabelValues(phase, status).Inc()
	coordinatorBlockDuration.WithLabelValues(phase, status).Observe(time.Since(started).Seconds())
	coordinatorTransactionsTotal.WithLabelValues(phase).Add(float64(txs))
}

// ObserveClusters records clusters allocated and merged by one block.
func (Coordinator) ObserveClusters(created, merged int) {
	clustersCreatedTotal.Add(float64(created))
	clustersMergedTotal.Add(float64(merged))
}
