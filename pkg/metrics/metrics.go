package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Arena metrics
	ArenaBytesAllocated = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "concordkv_arena_bytes_allocated",
			Help: "Bytes currently allocated from an arena, by arena instance label",
		},
		[]string{"arena"},
	)

	ArenaBlockReusesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concordkv_arena_block_reuses_total",
			Help: "Total number of blocks served from the arena's block cache instead of the system allocator",
		},
		[]string{"arena"},
	)

	// Engine metrics
	EngineOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concordkv_engine_ops_total",
			Help: "Total number of engine operations by engine kind and operation",
		},
		[]string{"engine", "op"},
	)

	EngineOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concordkv_engine_op_duration_seconds",
			Help:    "Engine operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine", "op"},
	)

	EngineCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "concordkv_engine_count",
			Help: "Current key count reported by count(), by engine kind",
		},
		[]string{"engine"},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concordkv_cache_hits_total",
			Help: "Total cache hits by policy",
		},
		[]string{"policy"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concordkv_cache_misses_total",
			Help: "Total cache misses by policy",
		},
		[]string{"policy"},
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concordkv_cache_evictions_total",
			Help: "Total cache evictions by policy",
		},
		[]string{"policy"},
	)

	// WAL metrics
	WALAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_wal_appends_total",
			Help: "Total number of WAL entries appended",
		},
	)

	WALFsyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_wal_fsyncs_total",
			Help: "Total number of WAL fsync calls (batched or forced)",
		},
	)

	WALSegmentRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_wal_segment_rotations_total",
			Help: "Total number of WAL segment rotations",
		},
	)

	WALRecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_wal_recoveries_total",
			Help: "Total number of crash-recovery replays performed on open",
		},
	)

	WALRecoveryReplayedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_wal_recovery_replayed_entries_total",
			Help: "Total number of WAL entries replayed across all recoveries",
		},
	)

	// LSM metrics
	LSMCompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concordkv_lsm_compactions_total",
			Help: "Total number of compactions by target level",
		},
		[]string{"level"},
	)

	LSMFlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_lsm_flushes_total",
			Help: "Total number of MemTable flushes to SSTable",
		},
	)

	LSMSSTableCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "concordkv_lsm_sstable_count",
			Help: "Current number of live SSTable files by level",
		},
		[]string{"level"},
	)

	// Transaction metrics
	TxnCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concordkv_txn_commits_total",
			Help: "Total local transaction commits by isolation level",
		},
		[]string{"isolation"},
	)

	TxnAbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concordkv_txn_aborts_total",
			Help: "Total local transaction rollbacks by isolation level",
		},
		[]string{"isolation"},
	)

	// Coordinator (2PC) metrics
	CoordinatorTxnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concordkv_coordinator_txns_total",
			Help: "Total distributed transactions by terminal status",
		},
		[]string{"status"},
	)

	CoordinatorPrepareDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concordkv_coordinator_prepare_duration_seconds",
			Help:    "Time spent in the prepare phase of 2PC",
			Buckets: prometheus.DefBuckets,
		},
	)

	CoordinatorTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_coordinator_timeouts_total",
			Help: "Total distributed transactions moved to Aborting by the timeout checker",
		},
	)

	// Batch I/O metrics
	BatchSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_batch_submitted_total",
			Help: "Total batches submitted for execution",
		},
	)

	BatchCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_batch_completed_total",
			Help: "Total batches that completed",
		},
	)

	BatchCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concordkv_batch_cancelled_total",
			Help: "Total batches cancelled before completion",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ArenaBytesAllocated,
		ArenaBlockReusesTotal,
		EngineOpsTotal,
		EngineOpDuration,
		EngineCount,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
		WALAppendsTotal,
		WALFsyncsTotal,
		WALSegmentRotationsTotal,
		WALRecoveriesTotal,
		WALRecoveryReplayedEntries,
		LSMCompactionsTotal,
		LSMFlushesTotal,
		LSMSSTableCount,
		TxnCommitsTotal,
		TxnAbortsTotal,
		CoordinatorTxnsTotal,
		CoordinatorPrepareDuration,
		CoordinatorTimeoutsTotal,
		BatchSubmittedTotal,
		BatchCompletedTotal,
		BatchCancelledTotal,
	)
}

// Handler returns the Prometheus HTTP handler. A collaborator embeds this
// into its own mux; the storage core never listens on a socket itself.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSince records the seconds elapsed since start on obs. Call sites
// capture the start time once and defer the observation:
//
//	start := time.Now()
//	defer metrics.ObserveSince(start, metrics.EngineOpDuration.WithLabelValues("hash", "put"))
//
// The observer argument is resolved when the defer statement runs, the
// elapsed time when the surrounding function returns.
func ObserveSince(start time.Time, obs prometheus.Observer) {
	obs.Observe(time.Since(start).Seconds())
}
