package bptree

import (
	"sync/atomic"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

func (t *BPTree) Delete(key types.Key) error {
	metrics.EngineOpsTotal.WithLabelValues("bptree", "delete").Inc()
	atomic.AddUint64(&t.totalOps, 1)

	t.mu.Lock()
	defer t.mu.Unlock()

	leaf := t.findLeaf(key)
	i := searchLeaf(leaf, key)
	if i < 0 {
		return kverrors.New("bptree.delete", kverrors.NotFound)
	}
	leaf.keys = removeKey(leaf.keys, i)
	leaf.values = removeValue(leaf.values, i)
	t.count--

	if len(leaf.keys) > 0 {
		t.fixAncestorSeparator(leaf)
	}

	if leaf != t.root && len(leaf.keys) < t.minLeafKeys() {
		t.rebalanceLeaf(leaf)
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

// fixAncestorSeparator maintains the invariant that every separator key in
// an ancestor equals the minimum key of the subtree to its right: it walks
// up from n while n is its parent's leftmost child (a separator change
// there would affect a further ancestor, not this one) and patches the
// first separator that actually routes to n.
func (t *BPTree) fixAncestorSeparator(n *bpNode) {
	child := n
	parent := n.parent
	for parent != nil {
		idx := indexOfChild(parent, child)
		if idx > 0 {
			parent.keys[idx-1] = n.keys[0]
			return
		}
		child = parent
		parent = parent.parent
	}
}

func (t *BPTree) rebalanceLeaf(n *bpNode) {
	parent := n.parent
	idx := indexOfChild(parent, n)

	if idx > 0 {
		left := parent.children[idx-1]
		if len(left.keys) > t.minLeafKeys() {
			lastIdx := len(left.keys) - 1
			bk, bv := left.keys[lastIdx], left.values[lastIdx]
			left.keys = left.keys[:lastIdx]
			left.values = left.values[:lastIdx]
			n.keys = insertKey(n.keys, 0, bk)
			n.values = insertValue(n.values, 0, bv)
			parent.keys[idx-1] = n.keys[0]
			return
		}
	}
	if idx < len(parent.children)-1 {
		right := parent.children[idx+1]
		if len(right.keys) > t.minLeafKeys() {
			bk, bv := right.keys[0], right.values[0]
			right.keys = removeKey(right.keys, 0)
			right.values = removeValue(right.values, 0)
			n.keys = append(n.keys, bk)
			n.values = append(n.values, bv)
			parent.keys[idx] = right.keys[0]
			return
		}
	}

	if idx > 0 {
		left := parent.children[idx-1]
		left.keys = append(left.keys, n.keys...)
		left.values = append(left.values, n.values...)
		left.next = n.next
		if n.next != nil {
			n.next.prev = left
		}
		t.leafCount--
		t.removeChildFromParent(parent, idx)
		t.rebalanceInternal(parent)
	} else {
		right := parent.children[idx+1]
		n.keys = append(n.keys, right.keys...)
		n.values = append(n.values, right.values...)
		n.next = right.next
		if right.next != nil {
			right.next.prev = n
		}
		t.leafCount--
		t.removeChildFromParent(parent, idx+1)
		t.rebalanceInternal(parent)
	}
}

// removeChildFromParent removes parent.children[childIdx] and the separator
// immediately to its left.
func (t *BPTree) removeChildFromParent(parent *bpNode, childIdx int) {
	parent.children = removeChild(parent.children, childIdx)
	parent.keys = removeKey(parent.keys, childIdx-1)
}

func (t *BPTree) rebalanceInternal(n *bpNode) {
	if n == t.root {
		if len(n.children) == 1 {
			t.root = n.children[0]
			t.root.parent = nil
		}
		return
	}
	if len(n.children) >= t.minChildren() {
		return
	}

	parent := n.parent
	idx := indexOfChild(parent, n)

	if idx > 0 {
		left := parent.children[idx-1]
		if len(left.children) > t.minChildren() {
			lastChildIdx := len(left.children) - 1
			borrowed := left.children[lastChildIdx]
			left.children = left.children[:lastChildIdx]
			sep := parent.keys[idx-1]
			newSep := left.keys[len(left.keys)-1]
			left.keys = left.keys[:len(left.keys)-1]

			n.keys = insertKey(n.keys, 0, sep)
			n.children = insertChild(n.children, 0, borrowed)
			borrowed.parent = n
			parent.keys[idx-1] = newSep
			return
		}
	}
	if idx < len(parent.children)-1 {
		right := parent.children[idx+1]
		if len(right.children) > t.minChildren() {
			borrowed := right.children[0]
			right.children = removeChild(right.children, 0)
			sep := parent.keys[idx]
			newSep := right.keys[0]
			right.keys = removeKey(right.keys, 0)

			n.keys = append(n.keys, sep)
			n.children = append(n.children, borrowed)
			borrowed.parent = n
			parent.keys[idx] = newSep
			return
		}
	}

	if idx > 0 {
		left := parent.children[idx-1]
		sep := parent.keys[idx-1]
		left.keys = append(left.keys, sep)
		left.keys = append(left.keys, n.keys...)
		for _, c := range n.children {
			c.parent = left
		}
		left.children = append(left.children, n.children...)
		t.removeChildFromParent(parent, idx)
		t.rebalanceInternal(parent)
	} else {
		right := parent.children[idx+1]
		sep := parent.keys[idx]
		n.keys = append(n.keys, sep)
		n.keys = append(n.keys, right.keys...)
		for _, c := range right.children {
			c.parent = n
		}
		n.children = append(n.children, right.children...)
		t.removeChildFromParent(parent, idx+1)
		t.rebalanceInternal(parent)
	}
}
