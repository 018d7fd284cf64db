/*
Package metrics provides Prometheus instrumentation for the ConcordKV storage
core: arena allocation, per-engine operation counts/latency, cache hit rate,
WAL append/fsync/rotation counters, LSM compaction/flush counters, local and
distributed transaction outcomes, and batch I/O throughput.

All metrics are registered once at package init via prometheus.MustRegister
and exposed through Handler(), which a collaborator mounts on its own HTTP
mux — the storage core never opens a listening socket itself.

The package also carries the component liveness registry (health.go):
wal.Open, lsm.New, coordinator.New and storage.Open register themselves and
deregister on Close, so readiness always reflects the components a process
actually holds open. Registration is reference-counted and criticality is
declared per component at registration; nothing is hardcoded.

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/healthz", metrics.HealthHandler())
*/
package metrics
