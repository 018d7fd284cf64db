// Package bptree implements the engine contract as a leaf-linked,
// order-configurable B+Tree: internal nodes hold routing keys only, leaves
// hold records and are linked in key order for efficient range scans.
// An optional hot-node cache and an adaptive node-sizing
// manager are layered on top; see cache.go and adaptive.go.
package bptree

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/log"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

const (
	minOrder     = 3
	maxOrder     = 1000
	defaultOrder = 100
)

// Config configures a new BPTree engine.
type Config struct {
	Order         int // branching factor, 3-1000; default 100
	CacheEnabled  bool
	CacheCapacity int // hot-node cache max entries; default 1024

	// Adaptive enables the runtime node-capacity adjustment manager.
	Adaptive bool
}

func (c Config) validate() error {
	if c.Order != 0 && (c.Order < minOrder || c.Order > maxOrder) {
		return kverrors.New("bptree.create", kverrors.InvalidArg)
	}
	if c.CacheCapacity < 0 {
		return kverrors.New("bptree.create", kverrors.InvalidArg)
	}
	return nil
}

// bpNode is shared by internal and leaf nodes. Internal nodes use keys as
// routing separators and children as subtrees; leaves use keys/values as
// records and next/prev to form the ordered leaf chain.
type bpNode struct {
	leaf     bool
	keys     []types.Key
	children []*bpNode // internal only, len(children) == len(keys)+1
	values   []types.Value
	next     *bpNode
	prev     *bpNode
	parent   *bpNode
}

// BPTree is a B+Tree engine. Structural mutation (insert/delete, which may
// split or merge nodes) takes the writer hold; Get takes a reader hold and,
// on a hot-node cache hit, only ever touches atomic counters (see cache.go).
type BPTree struct {
	mu    sync.RWMutex
	root  *bpNode
	order int
	count int

	hot       *hotCache // nil when Config.CacheEnabled is false
	adaptive  *adaptiveSizer
	totalOps  uint64 // atomic
	leafCount int
}

// New creates a BPTree engine per cfg.
func New(cfg Config) (*BPTree, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Order == 0 {
		cfg.Order = defaultOrder
	}
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = 1024
	}

	t := &BPTree{
		order: cfg.Order,
		root:  &bpNode{leaf: true},
	}
	t.leafCount = 1
	if cfg.CacheEnabled {
		hc, err := newHotCache(cfg.CacheCapacity)
		if err != nil {
			return nil, err
		}
		t.hot = hc
	}
	if cfg.Adaptive {
		t.adaptive = newAdaptiveSizer(cfg.Order)
	}
	return t, nil
}

func (t *BPTree) minLeafKeys() int {
	if t.order <= 2 {
		return 0
	}
	return (t.order+1)/2 - 1
}

func (t *BPTree) minChildren() int {
	return (t.order + 1) / 2
}

// findLeaf descends from root to the leaf that would contain key.
func (t *BPTree) findLeaf(key types.Key) *bpNode {
	n := t.root
	for !n.leaf {
		i := 0
		for i < len(n.keys) && bytes.Compare(key, n.keys[i]) >= 0 {
			i++
		}
		n = n.children[i]
	}
	return n
}

func searchLeaf(n *bpNode, key types.Key) int {
	for i, k := range n.keys {
		if bytes.Equal(k, key) {
			return i
		}
	}
	return -1
}

func (t *BPTree) Get(key types.Key) (types.Value, error) {
	start := time.Now()
	defer metrics.ObserveSince(start, metrics.EngineOpDuration.WithLabelValues("bptree", "get"))
	metrics.EngineOpsTotal.WithLabelValues("bptree", "get").Inc()
	atomic.AddUint64(&t.totalOps, 1)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var leaf *bpNode
	if t.hot != nil {
		if n, ok := t.hot.lookup(key); ok && searchLeaf(n, key) >= 0 {
			leaf = n
		}
	}
	if leaf == nil {
		leaf = t.findLeaf(key)
		if t.hot != nil {
			t.hot.record(key, leaf)
		}
	}

	i := searchLeaf(leaf, key)
	if i < 0 {
		return nil, kverrors.New("bptree.get", kverrors.NotFound)
	}
	return leaf.values[i].Clone(), nil
}

func (t *BPTree) Put(key types.Key, value types.Value) error {
	start := time.Now()
	defer metrics.ObserveSince(start, metrics.EngineOpDuration.WithLabelValues("bptree", "put"))
	metrics.EngineOpsTotal.WithLabelValues("bptree", "put").Inc()
	atomic.AddUint64(&t.totalOps, 1)

	t.mu.Lock()
	defer t.mu.Unlock()

	key = key.Clone()
	value = value.Clone()

	leaf := t.findLeaf(key)
	i := searchLeaf(leaf, key)
	if i >= 0 {
		leaf.values[i] = value
		return nil
	}

	pos := 0
	for pos < len(leaf.keys) && bytes.Compare(leaf.keys[pos], key) < 0 {
		pos++
	}
	leaf.keys = insertKey(leaf.keys, pos, key)
	leaf.values = insertValue(leaf.values, pos, value)
	t.count++

	if len(leaf.keys) >= t.order {
		t.splitLeaf(leaf)
	}

	if t.hot != nil {
		t.hot.invalidate(key)
	}
	if t.adaptive != nil {
		t.adaptive.observe(t.count, t.leafCount)
	}
	metrics.EngineCount.WithLabelValues("bptree").Set(float64(t.count))
	return nil
}

func (t *BPTree) Update(key types.Key, value types.Value) error {
	metrics.EngineOpsTotal.WithLabelValues("bptree", "update").Inc()
	atomic.AddUint64(&t.totalOps, 1)

	t.mu.Lock()
	defer t.mu.Unlock()
	leaf := t.findLeaf(key)
	i := searchLeaf(leaf, key)
	if i < 0 {
		return kverrors.New("bptree.update", kverrors.NotFound)
	}
	leaf.values[i] = value.Clone()
	if t.hot != nil {
		t.hot.invalidate(key)
	}
	return nil
}

func (t *BPTree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Records walks the leaf chain left to right, returning every record in
// ascending key order, for snapshot dumps and ordered scans.
func (t *BPTree) Records() []types.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.root
	for !n.leaf {
		n = n.children[0]
	}
	out := make([]types.Record, 0, t.count)
	for ; n != nil; n = n.next {
		for i := range n.keys {
			out = append(out, types.Record{Key: n.keys[i].Clone(), Value: n.values[i].Clone()})
		}
	}
	return out
}

func (t *BPTree) BatchPut(keys []types.Key, values []types.Value) error {
	if len(keys) != len(values) {
		return kverrors.New("bptree.batch_put", kverrors.InvalidArg)
	}
	for i := range keys {
		if err := t.Put(keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports engine-level counters. CacheHitRate delegates to the hot
// cache's own accessor rather than keeping a second, possibly divergent
// tree-level counter.
type Stats struct {
	TotalOps      uint64
	CacheHitRate  float64
	AverageNodeSize float64
}

func (t *BPTree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{TotalOps: atomic.LoadUint64(&t.totalOps)}
	if t.hot != nil {
		s.CacheHitRate = t.hot.stats().HitRate
	}
	if t.adaptive != nil {
		s.AverageNodeSize = t.adaptive.averageNodeSize(t.count, t.leafCount)
	} else {
		s.AverageNodeSize = averageNodeSize(t.count, t.leafCount)
	}
	return s
}

func (t *BPTree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = &bpNode{leaf: true}
	t.count = 0
	t.leafCount = 1
	log.WithEngine("bptree").Debug().Msg("engine closed")
	return nil
}

func insertKey(s []types.Key, pos int, k types.Key) []types.Key {
	s = append(s, nil)
	copy(s[pos+1:], s[pos:])
	s[pos] = k
	return s
}

func insertValue(s []types.Value, pos int, v types.Value) []types.Value {
	s = append(s, nil)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func insertChild(s []*bpNode, pos int, c *bpNode) []*bpNode {
	s = append(s, nil)
	copy(s[pos+1:], s[pos:])
	s[pos] = c
	return s
}

func removeKey(s []types.Key, pos int) []types.Key {
	return append(s[:pos], s[pos+1:]...)
}

func removeValue(s []types.Value, pos int) []types.Value {
	return append(s[:pos], s[pos+1:]...)
}

func removeChild(s []*bpNode, pos int) []*bpNode {
	return append(s[:pos], s[pos+1:]...)
}
