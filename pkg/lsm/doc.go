// Package lsm implements the LSM-tree storage engine: an in-memory
// MemTable manager backed by immutable on-disk SSTables,
// organized into levels and merged by a background compaction scheduler.
// Every mutation is WAL-appended before MemTable insertion, reusing pkg/wal
// exactly as pkg/txn and pkg/batch reuse pkg/engine — the durability path is
// shared infrastructure, not reinvented per storage path.
//
// The manifest is a bbolt database whose transactional commit (fsync
// included) gives it the "write new, fsync, rename" atomicity it needs
// without ConcordKV hand-rolling its own rename-based versioning.
package lsm
