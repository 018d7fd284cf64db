package bptree

import "github.com/Lzww0608/ConcordKV-sub005/pkg/types"

// splitLeaf splits an overflowing leaf in half, relinks the leaf chain, and
// pushes the new right leaf's first key up as a separator.
func (t *BPTree) splitLeaf(n *bpNode) {
	mid := (len(n.keys) + 1) / 2

	right := &bpNode{
		leaf:   true,
		keys:   append([]types.Key(nil), n.keys[mid:]...),
		values: append([]types.Value(nil), n.values[mid:]...),
		parent: n.parent,
		next:   n.next,
		prev:   n,
	}
	if n.next != nil {
		n.next.prev = right
	}
	n.next = right
	n.keys = n.keys[:mid]
	n.values = n.values[:mid]
	t.leafCount++

	t.insertIntoParent(n, right.keys[0], right)
}

// splitInternal splits an overflowing internal node, pushing its middle key
// up (it does not survive in either child, per standard B+Tree internal
// splitting: internal nodes hold routing keys only).
func (t *BPTree) splitInternal(n *bpNode) {
	mid := len(n.keys) / 2
	sep := n.keys[mid]

	right := &bpNode{
		leaf:     false,
		keys:     append([]types.Key(nil), n.keys[mid+1:]...),
		children: append([]*bpNode(nil), n.children[mid+1:]...),
		parent:   n.parent,
	}
	for _, c := range right.children {
		c.parent = right
	}
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	t.insertIntoParent(n, sep, right)
}

func indexOfChild(parent *bpNode, child *bpNode) int {
	for i, c := range parent.children {
		if c == child {
			return i
		}
	}
	return -1
}

// insertIntoParent inserts sep/right immediately after left in left's
// parent, creating a new root if left was the root.
func (t *BPTree) insertIntoParent(left *bpNode, sep types.Key, right *bpNode) {
	parent := left.parent
	if parent == nil {
		newRoot := &bpNode{
			leaf:     false,
			keys:     []types.Key{sep},
			children: []*bpNode{left, right},
		}
		left.parent = newRoot
		right.parent = newRoot
		t.root = newRoot
		return
	}

	idx := indexOfChild(parent, left)
	parent.keys = insertKey(parent.keys, idx, sep)
	parent.children = insertChild(parent.children, idx+1, right)
	right.parent = parent

	if len(parent.children) > t.order {
		t.splitInternal(parent)
	}
}
