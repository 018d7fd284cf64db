// Package wal implements the storage core's write-ahead log and snapshot
// subsystem: a single active append-only segment per stream, rotated on a
// size/entry threshold and compacted when a caller invokes Compact (no
// background goroutine compacts segments), plus full
// and incremental snapshots that bound replay on recovery.
//
// On-disk layout: every entry is packed as
// (seq uint64, kind uint8, key_len uint32, val_len uint32, key, value,
// crc32 uint32), with the CRC computed over the record with its own field
// absent from the hash (there is nothing to zero — the CRC field is simply
// appended last and excluded from its own input). Segment bookkeeping
// (which files exist, their sequence ranges, whether they are sealed) is
// kept in a small bbolt database alongside the segment files: rotation and
// compaction need a crash-safe index, and bbolt already gives ConcordKV one
// for free instead of a hand-rolled metadata file with its own fsync
// discipline.
package wal
