package storage

import (
	"path/filepath"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/wal"
)

// Store is the contract the consensus and replication collaborators consume:
// the uniform engine operation set plus the durability surface (snapshots,
// recovery info, cumulative statistics).
type Store interface {
	Put(key types.Key, value types.Value) error
	Get(key types.Key) (types.Value, error)
	Delete(key types.Key) error
	Update(key types.Key, value types.Value) error
	Count() int
	BatchPut(keys []types.Key, values []types.Value) error

	// Snapshot captures engine state at the current WAL sequence and
	// returns the snapshot file path. Incremental snapshots require a
	// prior full snapshot in this store's lifetime.
	Snapshot(kind wal.SnapshotKind) (string, error)

	// Recovery reports what Open had to do to reconstruct state.
	Recovery() RecoveryInfo

	Stats() Stats
	Close() error
}

// RecoveryInfo summarizes the recovery work performed by Open.
type RecoveryInfo struct {
	Needed          bool
	SnapshotSeq     uint64 // sequence of the snapshot applied, 0 if none
	ReplayedEntries uint64
}

// Stats aggregates facade-level counters.
type Stats struct {
	WAL  wal.Stats
	Keys int
}

// Config configures a Store rooted at Dir. The zero WAL and snapshot
// directories default to subdirectories of Dir; the collaborator that owns
// configuration loading populates this struct and is expected to have
// validated the option table before calling Open.
type Config struct {
	Dir    string
	Engine engine.Config
	WAL    wal.Config // WAL.Dir defaults to Dir/wal

	SnapshotDir string // defaults to Dir/snapshots
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.WAL.Dir == "" {
		out.WAL.Dir = filepath.Join(out.Dir, "wal")
	}
	if out.SnapshotDir == "" {
		out.SnapshotDir = filepath.Join(out.Dir, "snapshots")
	}
	return out
}

func (c *Config) validate() error {
	if c.Dir == "" {
		return kverrors.New("storage.open", kverrors.InvalidArg)
	}
	return nil
}
