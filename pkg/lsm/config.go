package lsm

import (
	"time"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/wal"
)

const (
	// DefaultMemTableBytes freezes the active MemTable once its buffered
	// payload exceeds 4 MiB.
	DefaultMemTableBytes int64 = 4 * 1024 * 1024
	// DefaultMemTableEntries freezes the active MemTable once it holds this
	// many records, regardless of byte size.
	DefaultMemTableEntries = 4096
	// DefaultBlockSize targets 4 KiB uncompressed data blocks.
	DefaultBlockSize = 4096
	// DefaultLevel0CompactionTrigger schedules an L0->L1 compaction once L0
	// holds this many overlapping files.
	DefaultLevel0CompactionTrigger = 4
	// DefaultLevelSizeMultiplier is the size-tiered ratio between Ln and
	// Ln+1 used to decide when a level needs compacting into the next.
	DefaultLevelSizeMultiplier = 10
	// DefaultCompactionWorkers is the compaction scheduler's worker count.
	DefaultCompactionWorkers = 2
	// DefaultBloomFPRate targets a 1% false-positive rate per SSTable.
	DefaultBloomFPRate = 0.01
	// DefaultCompactionQueueCapacity bounds the pending-task backlog.
	DefaultCompactionQueueCapacity = 64
)

// Config configures an LSM engine instance.
type Config struct {
	Dir string

	MemTableBytes   int64
	MemTableEntries int
	BlockSize       int

	Level0CompactionTrigger int
	LevelSizeMultiplier     int
	CompactionWorkers       int
	BloomFPRate             float64

	// FlushInterval additionally flushes a non-empty active MemTable after
	// this long even if no threshold was crossed, bounding how stale the
	// durable SSTable view can get relative to the WAL.
	FlushInterval time.Duration

	WAL wal.Config
}

func (c *Config) validate() error {
	if c.Dir == "" {
		return kverrors.New("lsm.open", kverrors.InvalidArg)
	}
	if c.BloomFPRate < 0 || c.BloomFPRate >= 1 {
		return kverrors.New("lsm.open", kverrors.InvalidArg)
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MemTableBytes <= 0 {
		out.MemTableBytes = DefaultMemTableBytes
	}
	if out.MemTableEntries <= 0 {
		out.MemTableEntries = DefaultMemTableEntries
	}
	if out.BlockSize <= 0 {
		out.BlockSize = DefaultBlockSize
	}
	if out.Level0CompactionTrigger <= 0 {
		out.Level0CompactionTrigger = DefaultLevel0CompactionTrigger
	}
	if out.LevelSizeMultiplier <= 0 {
		out.LevelSizeMultiplier = DefaultLevelSizeMultiplier
	}
	if out.CompactionWorkers <= 0 {
		out.CompactionWorkers = DefaultCompactionWorkers
	}
	if out.BloomFPRate <= 0 {
		out.BloomFPRate = DefaultBloomFPRate
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = 30 * time.Second
	}
	out.WAL.Dir = out.Dir + "/wal"
	return out
}
