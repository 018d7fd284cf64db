// Package hash implements the engine contract as power-of-two buckets with
// chaining, resized under a writer hold once the load factor crosses its
// configured threshold, with per-bucket segmented locks for concurrent
// writers to unrelated keys.
package hash

import (
	"bytes"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/lock"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/log"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

const defaultSegments = 64

// Config configures a new Hash engine.
type Config struct {
	InitialBuckets int     // rounded up to a power of two; default 16
	LoadFactor     float64 // resize trigger; default 0.75
}

func (c *Config) validate() error {
	if c.InitialBuckets < 0 {
		return kverrors.New("hash.create", kverrors.InvalidArg)
	}
	if c.LoadFactor < 0 {
		return kverrors.New("hash.create", kverrors.InvalidArg)
	}
	return nil
}

func nextPow2(n int) int {
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}

type node struct {
	key   types.Key
	value types.Value
	seq   uint64
	next  *node
}

// Hash is a chained hash-table engine. mu is the "structural" lock: every
// operation holds it as a reader (the bucket table pointer is stable and
// each bucket's own segment lock admits concurrent writers to different
// buckets); resize acquires it as a writer, which also waits out any
// in-flight per-bucket mutation since those hold mu for read the whole time.
type Hash struct {
	mu      sync.RWMutex
	buckets []*node
	seg     *lock.Segmented
	cfg     Config
	count   int64
	seq     uint64
	closed  bool
}

// New creates a Hash engine per cfg.
func New(cfg Config) (*Hash, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.InitialBuckets == 0 {
		cfg.InitialBuckets = 16
	} else {
		cfg.InitialBuckets = nextPow2(cfg.InitialBuckets)
	}
	if cfg.LoadFactor == 0 {
		cfg.LoadFactor = 0.75
	}
	return &Hash{
		buckets: make([]*node, cfg.InitialBuckets),
		seg:     lock.NewSegmented(defaultSegments),
		cfg:     cfg,
	}, nil
}

func bucketHash(key types.Key) uint64 { return xxhash.Sum64(key) }

func (h *Hash) Put(key types.Key, value types.Value) error {
	start := time.Now()
	defer metrics.ObserveSince(start, metrics.EngineOpDuration.WithLabelValues("hash", "put"))
	metrics.EngineOpsTotal.WithLabelValues("hash", "put").Inc()

	hv := bucketHash(key)

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return kverrors.New("hash.put", kverrors.InvalidState)
	}
	mask := uint64(len(h.buckets) - 1)
	idx := hv & mask

	h.seg.Lock(hv)
	inserted := true
	for n := h.buckets[idx]; n != nil; n = n.next {
		if bytes.Equal(n.key, key) {
			n.value = value.Clone()
			n.seq = h.nextSeq()
			inserted = false
			break
		}
	}
	if inserted {
		h.buckets[idx] = &node{key: key.Clone(), value: value.Clone(), seq: h.nextSeq(), next: h.buckets[idx]}
	}
	h.seg.Unlock(hv)
	h.mu.RUnlock()

	if inserted {
		count := h.addCountAtomic(1)
		metrics.EngineCount.WithLabelValues("hash").Set(float64(count))
		h.maybeResize()
	}
	return nil
}

func (h *Hash) nextSeq() uint64 {
	h.seq++
	return h.seq
}

func (h *Hash) maybeResize() {
	h.mu.RLock()
	need := float64(h.count)/float64(len(h.buckets)) > h.cfg.LoadFactor
	h.mu.RUnlock()
	if !need {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if float64(h.count)/float64(len(h.buckets)) <= h.cfg.LoadFactor {
		return // another goroutine already resized
	}
	newBuckets := make([]*node, len(h.buckets)*2)
	newMask := uint64(len(newBuckets) - 1)
	for _, head := range h.buckets {
		for n := head; n != nil; {
			next := n.next
			idx := bucketHash(n.key) & newMask
			n.next = newBuckets[idx]
			newBuckets[idx] = n
			n = next
		}
	}
	h.buckets = newBuckets
	log.WithEngine("hash").Debug().Int("buckets", len(newBuckets)).Msg("resized")
}

func (h *Hash) Get(key types.Key) (types.Value, error) {
	start := time.Now()
	defer metrics.ObserveSince(start, metrics.EngineOpDuration.WithLabelValues("hash", "get"))
	metrics.EngineOpsTotal.WithLabelValues("hash", "get").Inc()

	hv := bucketHash(key)
	h.mu.RLock()
	defer h.mu.RUnlock()
	mask := uint64(len(h.buckets) - 1)
	idx := hv & mask

	var out types.Value
	var ok bool
	h.seg.WithRLock(hv, func() {
		for n := h.buckets[idx]; n != nil; n = n.next {
			if bytes.Equal(n.key, key) {
				out, ok = n.value.Clone(), true
				return
			}
		}
	})
	if !ok {
		return nil, kverrors.New("hash.get", kverrors.NotFound)
	}
	return out, nil
}

func (h *Hash) Delete(key types.Key) error {
	metrics.EngineOpsTotal.WithLabelValues("hash", "delete").Inc()

	hv := bucketHash(key)
	h.mu.RLock()
	mask := uint64(len(h.buckets) - 1)
	idx := hv & mask

	var removed bool
	h.seg.WithLock(hv, func() {
		head := h.buckets[idx]
		var prev *node
		for n := head; n != nil; n = n.next {
			if bytes.Equal(n.key, key) {
				if prev == nil {
					h.buckets[idx] = n.next
				} else {
					prev.next = n.next
				}
				removed = true
				return
			}
			prev = n
		}
	})
	h.mu.RUnlock()

	if !removed {
		return kverrors.New("hash.delete", kverrors.NotFound)
	}
	count := h.addCountAtomic(-1)
	metrics.EngineCount.WithLabelValues("hash").Set(float64(count))
	return nil
}

// addCountAtomic adjusts count under the structural lock; Delete already
// released mu by the time this runs so it reacquires briefly.
func (h *Hash) addCountAtomic(delta int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count += delta
	return h.count
}

func (h *Hash) Update(key types.Key, value types.Value) error {
	metrics.EngineOpsTotal.WithLabelValues("hash", "update").Inc()

	hv := bucketHash(key)
	h.mu.RLock()
	defer h.mu.RUnlock()
	mask := uint64(len(h.buckets) - 1)
	idx := hv & mask

	var found bool
	h.seg.WithLock(hv, func() {
		for n := h.buckets[idx]; n != nil; n = n.next {
			if bytes.Equal(n.key, key) {
				n.value = value.Clone()
				n.seq = h.nextSeq()
				found = true
				return
			}
		}
	})
	if !found {
		return kverrors.New("hash.update", kverrors.NotFound)
	}
	return nil
}

func (h *Hash) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int(h.count)
}

// Records returns a fresh copy of every live record, for snapshot dumps.
// It takes the structural lock as a writer so the dump quiesces every
// in-flight per-bucket mutation (those hold the structural lock for read).
func (h *Hash) Records() []types.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Record, 0, h.count)
	for _, head := range h.buckets {
		for n := head; n != nil; n = n.next {
			out = append(out, types.Record{Key: n.key.Clone(), Value: n.value.Clone(), Seq: n.seq})
		}
	}
	return out
}

func (h *Hash) BatchPut(keys []types.Key, values []types.Value) error {
	if len(keys) != len(values) {
		return kverrors.New("hash.batch_put", kverrors.InvalidArg)
	}
	for i := range keys {
		if err := h.Put(keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hash) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.buckets = nil
	h.count = 0
	log.WithEngine("hash").Debug().Msg("engine closed")
	return nil
}
