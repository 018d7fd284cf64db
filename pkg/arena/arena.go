// Package arena implements a bump-pointer block allocator used for
// short-lived nodes and keys/values during bulk loads. Memory handed out by
// Alloc is valid until the arena is destroyed and is never individually
// freed; the arena reclaims everything at once.
package arena

import (
	"sync"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

// ThreadMode selects whether Arena synchronizes mutations internally.
type ThreadMode int

const (
	// SingleThread assumes the caller provides external synchronization.
	SingleThread ThreadMode = iota
	// MultiThread wraps every mutation with the arena's writer hold; reads
	// of Stats take only a reader hold.
	MultiThread
)

const defaultBlockSize = 4096

// Config configures a new Arena.
type Config struct {
	BlockSize            int
	ThreadMode           ThreadMode
	EnableBlockCache     bool
	MaxCachedBlocks      int
	NUMANode             int
	CollectDetailedStats bool
}

func (c Config) validate() error {
	if c.BlockSize < 0 {
		return kverrors.New("arena.create", kverrors.InvalidArg)
	}
	if c.MaxCachedBlocks < 0 {
		return kverrors.New("arena.create", kverrors.InvalidArg)
	}
	return nil
}

type block struct {
	buf    []byte
	offset int
}

// Stats reports arena usage. Histograms are indexed by log2(bucket) for
// powers-of-two size buckets 1,2,4,...,up to 1<<31.
type Stats struct {
	TotalAllocations uint64
	BytesAllocated   uint64
	BytesWasted      uint64
	PeakUsage        uint64
	CurrentUsage     uint64
	BlockAllocations uint64
	BlockReuses      uint64
	SizeHistogram    [32]uint64
	AlignHistogram   [32]uint64
}

// Arena is a bump-pointer allocator over reusable fixed-size blocks.
type Arena struct {
	cfg Config

	mu sync.RWMutex // guards blocks/cache/current in MultiThread mode

	blocks  []*block
	current *block

	cache []*block

	totalAllocs  uint64
	bytesAlloc   uint64
	bytesWasted  uint64
	peakUsage    uint64
	currentUsage uint64
	blockAllocs  uint64
	blockReuses  uint64
	sizeHist     [32]uint64
	alignHist    [32]uint64
}

// New creates an Arena per cfg, defaulting BlockSize to 4 KiB.
func New(cfg Config) (*Arena, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = defaultBlockSize
	}
	return &Arena{cfg: cfg}, nil
}

func bucketIndex(n int) int {
	idx := 0
	v := 1
	for v < n && idx < 31 {
		v <<= 1
		idx++
	}
	return idx
}

func (a *Arena) lockForMutation() func() {
	if a.cfg.ThreadMode == MultiThread {
		a.mu.Lock()
		return a.mu.Unlock
	}
	return func() {}
}

func (a *Arena) lockForRead() func() {
	if a.cfg.ThreadMode == MultiThread {
		a.mu.RLock()
		return a.mu.RUnlock
	}
	return func() {}
}

func roundUp(offset, align int) int {
	if align <= 1 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}

// Alloc returns n fresh bytes from the arena, never individually freed.
// Returns (nil, kverrors.InvalidArg) when n < 0.
func (a *Arena) Alloc(n int) ([]byte, error) {
	return a.AllocAligned(n, 1)
}

// AllocAligned is like Alloc but guarantees the returned slice starts at an
// address whose offset within its backing block is a multiple of align.
// Requests at least as large as the configured block size get a dedicated
// block.
func (a *Arena) AllocAligned(n int, align int) ([]byte, error) {
	if n < 0 || align < 1 {
		return nil, kverrors.New("arena.alloc", kverrors.InvalidArg)
	}
	unlock := a.lockForMutation()
	defer unlock()

	if n >= a.cfg.BlockSize {
		blk := a.newBlock(n)
		a.blocks = append(a.blocks, blk)
		blk.offset = n
		a.recordAlloc(n, align, 0)
		return blk.buf[:n], nil
	}

	if a.current == nil {
		if !a.acquireBlock() {
			return nil, kverrors.New("arena.alloc", kverrors.NoMemory)
		}
	}

	start := roundUp(a.current.offset, align)
	wasted := start - a.current.offset
	if start+n > len(a.current.buf) {
		a.bytesWasted += uint64(len(a.current.buf) - a.current.offset)
		if !a.acquireBlock() {
			return nil, kverrors.New("arena.alloc", kverrors.NoMemory)
		}
		start = roundUp(a.current.offset, align)
		wasted = start - a.current.offset
	}

	out := a.current.buf[start : start+n]
	a.current.offset = start + n
	a.recordAlloc(n, align, wasted)
	return out, nil
}

func (a *Arena) recordAlloc(n, align, wasted int) {
	a.totalAllocs++
	a.bytesAlloc += uint64(n)
	a.bytesWasted += uint64(wasted)
	a.currentUsage += uint64(n)
	if a.currentUsage > a.peakUsage {
		a.peakUsage = a.currentUsage
	}
	a.sizeHist[bucketIndex(n)]++
	a.alignHist[bucketIndex(align)]++
}

// acquireBlock installs a is fresh current block, reusing one from the cache
// when available. Caller holds the mutation lock (or SingleThread).
func (a *Arena) acquireBlock() bool {
	if a.cfg.EnableBlockCache && len(a.cache) > 0 {
		blk := a.cache[len(a.cache)-1]
		a.cache = a.cache[:len(a.cache)-1]
		blk.offset = 0
		a.current = blk
		a.blocks = append(a.blocks, blk)
		a.blockReuses++
		return true
	}
	blk := a.newBlock(a.cfg.BlockSize)
	a.current = blk
	a.blocks = append(a.blocks, blk)
	a.blockAllocs++
	return true
}

func (a *Arena) newBlock(size int) *block {
	return &block{buf: make([]byte, size)}
}

// Compact releases unused blocks to the block cache (or drops them if the
// cache is disabled or full) and returns bytes reclaimed. The current block
// is never compacted away.
func (a *Arena) Compact() uint64 {
	unlock := a.lockForMutation()
	defer unlock()

	var reclaimed uint64
	kept := a.blocks[:0:0]
	for _, blk := range a.blocks {
		if blk == a.current {
			kept = append(kept, blk)
			continue
		}
		reclaimed += uint64(len(blk.buf))
		if a.cfg.EnableBlockCache && len(a.cache) < a.cfg.MaxCachedBlocks {
			a.cache = append(a.cache, blk)
		}
	}
	a.blocks = kept
	return reclaimed
}

// Stats returns a point-in-time snapshot of allocator statistics.
func (a *Arena) Stats() Stats {
	unlock := a.lockForRead()
	defer unlock()
	return Stats{
		TotalAllocations: a.totalAllocs,
		BytesAllocated:   a.bytesAlloc,
		BytesWasted:      a.bytesWasted,
		PeakUsage:        a.peakUsage,
		CurrentUsage:     a.currentUsage,
		BlockAllocations: a.blockAllocs,
		BlockReuses:      a.blockReuses,
		SizeHistogram:    a.sizeHist,
		AlignHistogram:   a.alignHist,
	}
}

// Destroy releases all blocks and the cache under the arena's writer hold.
// Idempotent: calling Destroy twice is a no-op the second time.
func (a *Arena) Destroy() {
	unlock := a.lockForMutation()
	defer unlock()
	a.blocks = nil
	a.cache = nil
	a.current = nil
	a.currentUsage = 0
}
