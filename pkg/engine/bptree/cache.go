package bptree

import (
	"github.com/Lzww0608/ConcordKV-sub005/pkg/cache"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// hotCache remembers, for a recently-looked-up key, the leaf its root-to-leaf
// descent resolved to, so a repeat Get for the same key can skip the
// descent. It is a thin wrapper around the LRU cache policy (pkg/cache)
// keyed by string(key). Put/Update/Delete invalidate only the written key;
// because a split, borrow or merge can move other keys into a different
// leaf, Get uses a cached leaf only if it still holds the key and otherwise
// descends from the root.
type hotCache struct {
	c cache.Cache
}

func newHotCache(capacity int) (*hotCache, error) {
	c, err := cache.New(cache.Config{Policy: cache.LRU, Capacity: capacity})
	if err != nil {
		return nil, err
	}
	return &hotCache{c: c}, nil
}

func (h *hotCache) lookup(key types.Key) (*bpNode, bool) {
	v, ok := h.c.Get(string(key))
	if !ok {
		return nil, false
	}
	n, ok := v.(*bpNode)
	return n, ok
}

func (h *hotCache) record(key types.Key, n *bpNode) {
	h.c.Put(string(key), n)
}

// invalidate drops any cached descent for key. A cached leaf can still hold
// other keys validly, but key's own entry is no longer trustworthy once the
// tree structure around it may have changed.
func (h *hotCache) invalidate(key types.Key) {
	h.c.Remove(string(key))
}

func (h *hotCache) stats() cache.Stats {
	return h.c.Stats()
}
