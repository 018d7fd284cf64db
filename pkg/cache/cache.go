// Package cache implements the storage core's pluggable cache subsystem:
// LRU, LFU, FIFO, Random, CLOCK and ARC eviction policies behind one
// interface, sharing a single hits/misses/hit-rate accessor so a collaborator
// like the B+Tree's hot-node cache never has to reconcile two disagreeing
// counters (see the "statistics divergence" note this package's tests guard
// against).
//
// Every policy honors the same rule: Get never takes a writer hold. Any
// bookkeeping a read must perform (LRU position, CLOCK reference bit, ARC
// T1-to-T2 promotion) is either an atomic counter or deferred to the next
// path that already holds the writer lock for a structural change.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
)

// Policy selects the eviction algorithm.
type Policy int

const (
	LRU Policy = iota
	LFU
	FIFO
	Random
	CLOCK
	ARC
)

func (p Policy) String() string {
	switch p {
	case LRU:
		return "lru"
	case LFU:
		return "lfu"
	case FIFO:
		return "fifo"
	case Random:
		return "random"
	case CLOCK:
		return "clock"
	case ARC:
		return "arc"
	default:
		return "unknown"
	}
}

// Config configures a new Cache.
type Config struct {
	Policy   Policy
	Capacity int
	Buckets  int           // accepted but not read: every policy indexes keys with a Go map
	TTL      time.Duration // 0 disables expiry
}

// Cache is the uniform contract every policy satisfies. Get is lock-free on
// the writer side by design; Put/Remove may evict.
type Cache interface {
	Get(key string) (value interface{}, ok bool)
	Put(key string, value interface{})
	Remove(key string)
	Len() int
	Stats() Stats
}

// Stats is the single hit/miss/hit-rate source of truth every policy shares.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// counters is embedded by every policy implementation so Stats() is computed
// identically everywhere.
type counters struct {
	hits      uint64
	misses    uint64
	evictions uint64
}

func (c *counters) recordHit()    { atomic.AddUint64(&c.hits, 1) }
func (c *counters) recordMiss()   { atomic.AddUint64(&c.misses, 1) }
func (c *counters) recordEvict()  { atomic.AddUint64(&c.evictions, 1) }
func (c *counters) snapshot() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, Evictions: atomic.LoadUint64(&c.evictions), HitRate: rate}
}

type entryMeta struct {
	deadline time.Time
}

func (c *Config) validate() error {
	if c.Capacity <= 0 {
		return kverrors.New("cache.create", kverrors.InvalidArg)
	}
	return nil
}

// New builds a Cache for the configured policy.
func New(cfg Config) (Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Policy {
	case LRU:
		return newLRU(cfg), nil
	case LFU:
		return newLFU(cfg), nil
	case FIFO:
		return newFIFO(cfg), nil
	case Random:
		return newRandomCache(cfg), nil
	case CLOCK:
		return newClock(cfg), nil
	case ARC:
		return newARC(cfg), nil
	default:
		return nil, kverrors.New("cache.create", kverrors.InvalidArg)
	}
}

func expired(meta entryMeta, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return time.Now().After(meta.deadline)
}

func newDeadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func observe(policy Policy, hit bool, evicted bool) {
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(policy.String()).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(policy.String()).Inc()
	}
	if evicted {
		metrics.CacheEvictionsTotal.WithLabelValues(policy.String()).Inc()
	}
}
