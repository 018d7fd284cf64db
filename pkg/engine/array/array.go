// Package array implements the engine contract's linear-probe baseline: an
// O(N) lookup engine intended for small N or as a correctness reference for
// the other engines.
package array

import (
	"bytes"
	"sync"
	"time"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/log"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// Config configures a new Array engine. Capacity is an initial-capacity hint
// only; the underlying slice grows as needed.
type Config struct {
	Capacity int
}

func (c Config) validate() error {
	if c.Capacity < 0 {
		return kverrors.New("array.create", kverrors.InvalidArg)
	}
	return nil
}

// Array is a linear-scan engine: a single growable slice of records guarded
// by one reader-writer lock. There is no bucket or tree structure to keep
// balanced, which makes it the simplest engine to reason about and a good
// baseline for correctness tests of the others.
type Array struct {
	mu      sync.RWMutex
	records []types.Record
	seq     uint64
	closed  bool
}

// New creates an Array engine per cfg.
func New(cfg Config) (*Array, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Array{records: make([]types.Record, 0, cfg.Capacity)}, nil
}

func (a *Array) findLocked(key types.Key) int {
	for i := range a.records {
		if !a.records[i].Deleted && bytes.Equal(a.records[i].Key, key) {
			return i
		}
	}
	return -1
}

func (a *Array) Put(key types.Key, value types.Value) error {
	start := time.Now()
	defer metrics.ObserveSince(start, metrics.EngineOpDuration.WithLabelValues("array", "put"))
	metrics.EngineOpsTotal.WithLabelValues("array", "put").Inc()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return kverrors.New("array.put", kverrors.InvalidState)
	}
	if i := a.findLocked(key); i >= 0 {
		a.records[i].Value = value.Clone()
		a.records[i].Seq = a.nextSeq()
		return nil
	}
	a.records = append(a.records, types.Record{Key: key.Clone(), Value: value.Clone(), Seq: a.nextSeq()})
	metrics.EngineCount.WithLabelValues("array").Set(float64(a.countLocked()))
	return nil
}

func (a *Array) nextSeq() uint64 {
	a.seq++
	return a.seq
}

func (a *Array) Get(key types.Key) (types.Value, error) {
	start := time.Now()
	defer metrics.ObserveSince(start, metrics.EngineOpDuration.WithLabelValues("array", "get"))
	metrics.EngineOpsTotal.WithLabelValues("array", "get").Inc()

	a.mu.RLock()
	defer a.mu.RUnlock()
	if i := a.findLocked(key); i >= 0 {
		return a.records[i].Value.Clone(), nil
	}
	return nil, kverrors.New("array.get", kverrors.NotFound)
}

func (a *Array) Delete(key types.Key) error {
	metrics.EngineOpsTotal.WithLabelValues("array", "delete").Inc()

	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.findLocked(key)
	if i < 0 {
		return kverrors.New("array.delete", kverrors.NotFound)
	}
	a.records[i].Deleted = true
	a.records[i].Value = nil
	metrics.EngineCount.WithLabelValues("array").Set(float64(a.countLocked()))
	return nil
}

func (a *Array) Update(key types.Key, value types.Value) error {
	metrics.EngineOpsTotal.WithLabelValues("array", "update").Inc()

	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.findLocked(key)
	if i < 0 {
		return kverrors.New("array.update", kverrors.NotFound)
	}
	a.records[i].Value = value.Clone()
	a.records[i].Seq = a.nextSeq()
	return nil
}

func (a *Array) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.countLocked()
}

func (a *Array) countLocked() int {
	n := 0
	for _, r := range a.records {
		if !r.Deleted {
			n++
		}
	}
	return n
}

// Records returns a fresh copy of every live record, for snapshot dumps.
func (a *Array) Records() []types.Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.Record, 0, len(a.records))
	for _, r := range a.records {
		if r.Deleted {
			continue
		}
		out = append(out, types.Record{Key: r.Key.Clone(), Value: r.Value.Clone(), Seq: r.Seq})
	}
	return out
}

func (a *Array) BatchPut(keys []types.Key, values []types.Value) error {
	if len(keys) != len(values) {
		return kverrors.New("array.batch_put", kverrors.InvalidArg)
	}
	for i := range keys {
		if err := a.Put(keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the engine closed. Idempotent.
func (a *Array) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.records = nil
	log.WithEngine("array").Debug().Msg("engine closed")
	return nil
}
