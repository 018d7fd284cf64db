/*
Package storage is the top-level facade of the ConcordKV storage core: it
wires a storage engine (pkg/engine), the write-ahead log and snapshot
subsystem (pkg/wal), and crash recovery into one durable key-value store.

The facade owns the durability path for the in-memory engines (array, hash,
RB-tree, B+Tree): every mutation is WAL-appended before it becomes visible
in the engine, full and incremental snapshots capture engine state at a
known sequence, and Open replays the WAL tail past the latest snapshot to
reconstruct the exact pre-crash state.

	┌──────────────────── STORAGE FACADE ──────────────────────┐
	│                                                           │
	│   Put/Get/Delete/Update/BatchPut                          │
	│        │                                                  │
	│        ├── WAL append (pkg/wal) ── segment files + bbolt  │
	│        │                           segment index          │
	│        └── engine apply (pkg/engine factory selection)    │
	│                                                           │
	│   Snapshot(kind) ── engine dump ── snap-<seq>.snap        │
	│        └── WAL.Compact(seq): coalesce sealed segments     │
	│                                                           │
	│   Open ── latest snapshot ── WAL replay > snapshot seq    │
	└───────────────────────────────────────────────────────────┘

The LSM engine carries its own WAL and manifest (pkg/lsm); when selected,
the facade passes operations straight through and leaves durability to the
engine rather than stacking a second log on top of it.
*/
package storage
