package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// arcEntry is the payload of every list.Element across T1/T2/B1/B2. Ghost
// entries (B1/B2) carry no value.
type arcEntry struct {
	key   string
	value interface{}
	meta  entryMeta
}

// arcCache implements Adaptive Replacement Cache: T1 (recent, single-touch),
// T2 (frequent, multi-touch), and two ghost lists B1/B2 tracking keys
// recently evicted from T1/T2 so the adaptive parameter p can learn the
// workload's recency/frequency balance.
//
// Get only ever takes a reader hold. A T1/T2 hit would, in the textbook
// algorithm, promote the entry to the MRU end of T2 immediately — a
// structural mutation. ConcordKV defers that promotion into a touch buffer
// drained under the write lock the next time Put runs, the same pattern used
// by the LRU policy, so concurrent readers never contend with each other for
// list surgery.
type arcCache struct {
	counters
	cfg Config
	c   int // capacity

	mu     sync.RWMutex
	p      int // target size of T1
	t1, t2 *list.List
	b1, b2 *list.List
	elems  map[string]*list.Element // key -> element, whichever list it's in
	which  map[string]int           // key -> listT1/listT2/listB1/listB2

	touchBuf [256]atomic.Pointer[list.Element]
	touchSeq atomic.Uint32
}

const (
	listT1 = iota
	listT2
	listB1
	listB2
)

func newARC(cfg Config) *arcCache {
	return &arcCache{
		cfg:   cfg,
		c:     cfg.Capacity,
		t1:    list.New(),
		t2:    list.New(),
		b1:    list.New(),
		b2:    list.New(),
		elems: make(map[string]*list.Element),
		which: make(map[string]int),
	}
}

func (c *arcCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	el, ok := c.elems[key]
	if !ok {
		c.mu.RUnlock()
		c.recordMiss()
		observe(ARC, false, false)
		return nil, false
	}
	w := c.which[key]
	if w != listT1 && w != listT2 {
		// Ghost entry: not a data hit.
		c.mu.RUnlock()
		c.recordMiss()
		observe(ARC, false, false)
		return nil, false
	}
	ent := el.Value.(*arcEntry)
	if expired(ent.meta, c.cfg.TTL) {
		c.mu.RUnlock()
		c.recordMiss()
		observe(ARC, false, false)
		return nil, false
	}
	val := ent.value
	c.mu.RUnlock()

	idx := c.touchSeq.Add(1) % uint32(len(c.touchBuf))
	c.touchBuf[idx].Store(el)

	c.recordHit()
	observe(ARC, true, false)
	return val, true
}

// drainTouches promotes every T1 element touched since the last Put to the
// MRU end of T2, and refreshes MRU position for already-T2 elements. Caller
// holds the write lock.
func (c *arcCache) drainTouches() {
	for i := range c.touchBuf {
		el := c.touchBuf[i].Swap(nil)
		if el == nil {
			continue
		}
		ent := el.Value.(*arcEntry)
		w, ok := c.which[ent.key]
		if !ok {
			continue
		}
		switch w {
		case listT1:
			c.t1.Remove(el)
			c.which[ent.key] = listT2
			c.elems[ent.key] = c.t2.PushFront(ent)
		case listT2:
			c.t2.MoveToFront(el)
		}
	}
}

func (c *arcCache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drainTouches()

	if el, ok := c.elems[key]; ok {
		w := c.which[key]
		switch w {
		case listT1, listT2:
			ent := el.Value.(*arcEntry)
			ent.value = value
			ent.meta = entryMeta{deadline: newDeadline(c.cfg.TTL)}
			if w == listT1 {
				c.t1.Remove(el)
				c.which[key] = listT2
				c.elems[key] = c.t2.PushFront(ent)
			} else {
				c.t2.MoveToFront(el)
			}
			return
		case listB1:
			b1len, b2len := c.b1.Len(), c.b2.Len()
			delta := 1
			if b1len > 0 {
				delta = max(1, b2len/b1len)
			}
			c.p = min(c.c, c.p+delta)
			c.b1.Remove(el)
			delete(c.elems, key)
			delete(c.which, key)
			c.replaceLocked(false)
			c.insertFreshLocked(key, value, listT2)
			return
		case listB2:
			b1len, b2len := c.b1.Len(), c.b2.Len()
			delta := 1
			if b2len > 0 {
				delta = max(1, b1len/b2len)
			}
			c.p = max(0, c.p-delta)
			c.b2.Remove(el)
			delete(c.elems, key)
			delete(c.which, key)
			c.replaceLocked(true)
			c.insertFreshLocked(key, value, listT2)
			return
		}
	}

	// Brand new key.
	if c.t1.Len()+c.b1.Len() == c.c {
		if c.t1.Len() < c.c {
			c.evictGhostLRU(c.b1)
			c.replaceLocked(false)
		} else {
			c.evictDataLRU(c.t1)
		}
	} else if c.t1.Len()+c.t2.Len()+c.b1.Len()+c.b2.Len() >= c.c {
		if c.t1.Len()+c.t2.Len()+c.b1.Len()+c.b2.Len() >= 2*c.c {
			c.evictGhostLRU(c.b2)
		}
		c.replaceLocked(false)
	}
	c.insertFreshLocked(key, value, listT1)
}

func (c *arcCache) insertFreshLocked(key string, value interface{}, dest int) {
	ent := &arcEntry{key: key, value: value, meta: entryMeta{deadline: newDeadline(c.cfg.TTL)}}
	var el *list.Element
	if dest == listT1 {
		el = c.t1.PushFront(ent)
	} else {
		el = c.t2.PushFront(ent)
	}
	c.elems[key] = el
	c.which[key] = dest
}

// replaceLocked evicts the LRU entry of T1 or T2 into its ghost list,
// following the textbook ARC replace() rule.
func (c *arcCache) replaceLocked(b2Hit bool) {
	t1Len := c.t1.Len()
	if t1Len > 0 && (t1Len > c.p || (b2Hit && t1Len == c.p)) {
		c.evictDataToGhost(c.t1, c.b1, listB1)
	} else if c.t2.Len() > 0 {
		c.evictDataToGhost(c.t2, c.b2, listB2)
	} else if t1Len > 0 {
		c.evictDataToGhost(c.t1, c.b1, listB1)
	}
}

func (c *arcCache) evictDataToGhost(from, to *list.List, destList int) {
	back := from.Back()
	if back == nil {
		return
	}
	ent := back.Value.(*arcEntry)
	from.Remove(back)
	delete(c.elems, ent.key)
	c.recordEvict()
	observe(ARC, false, true)
	c.elems[ent.key] = to.PushFront(&arcEntry{key: ent.key})
	c.which[ent.key] = destList
	c.trimGhost(to)
}

// trimGhost caps a ghost list at capacity c so B1/B2 don't grow unbounded.
func (c *arcCache) trimGhost(l *list.List) {
	for l.Len() > c.c {
		back := l.Back()
		if back == nil {
			return
		}
		ent := back.Value.(*arcEntry)
		l.Remove(back)
		delete(c.elems, ent.key)
		delete(c.which, ent.key)
	}
}

func (c *arcCache) evictGhostLRU(l *list.List) {
	back := l.Back()
	if back == nil {
		return
	}
	ent := back.Value.(*arcEntry)
	l.Remove(back)
	delete(c.elems, ent.key)
	delete(c.which, ent.key)
}

func (c *arcCache) evictDataLRU(l *list.List) {
	back := l.Back()
	if back == nil {
		return
	}
	ent := back.Value.(*arcEntry)
	l.Remove(back)
	delete(c.elems, ent.key)
	delete(c.which, ent.key)
	c.recordEvict()
	observe(ARC, false, true)
}

func (c *arcCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elems[key]
	if !ok {
		return
	}
	switch c.which[key] {
	case listT1:
		c.t1.Remove(el)
	case listT2:
		c.t2.Remove(el)
	case listB1:
		c.b1.Remove(el)
	case listB2:
		c.b2.Remove(el)
	}
	delete(c.elems, key)
	delete(c.which, key)
}

func (c *arcCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t1.Len() + c.t2.Len()
}

func (c *arcCache) Stats() Stats { return c.snapshot() }
