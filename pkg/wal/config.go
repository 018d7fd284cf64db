package wal

import (
	"time"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

const (
	// DefaultSegmentBytes rotates a segment once it exceeds 64 MiB.
	DefaultSegmentBytes int64 = 64 * 1024 * 1024
	// DefaultSegmentEntries rotates a segment once it holds 1000 entries.
	DefaultSegmentEntries = 1000
	// DefaultFsyncEvery batches fsync every 100 appended entries.
	DefaultFsyncEvery = 100
	// DefaultFsyncInterval batches fsync at least every 5 seconds.
	DefaultFsyncInterval = 5 * time.Second
)

// Config configures a WAL instance rooted at Dir.
type Config struct {
	Dir string

	SegmentBytes   int64         // rotate threshold; 0 picks DefaultSegmentBytes
	SegmentEntries int           // rotate threshold; 0 picks DefaultSegmentEntries
	FsyncEvery     int           // batch-fsync every N entries; 0 picks DefaultFsyncEvery
	FsyncInterval  time.Duration // batch-fsync at least this often; 0 picks DefaultFsyncInterval

	// MaxAppendRetries bounds the internal retry of a single Append before
	// escalating to kverrors.IO.
	MaxAppendRetries int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SegmentBytes <= 0 {
		out.SegmentBytes = DefaultSegmentBytes
	}
	if out.SegmentEntries <= 0 {
		out.SegmentEntries = DefaultSegmentEntries
	}
	if out.FsyncEvery <= 0 {
		out.FsyncEvery = DefaultFsyncEvery
	}
	if out.FsyncInterval <= 0 {
		out.FsyncInterval = DefaultFsyncInterval
	}
	if out.MaxAppendRetries <= 0 {
		out.MaxAppendRetries = 3
	}
	return out
}

func (c *Config) validate() error {
	if c.Dir == "" {
		return kverrors.New("wal.open", kverrors.InvalidArg)
	}
	return nil
}
