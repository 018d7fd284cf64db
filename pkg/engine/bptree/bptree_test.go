package bptree

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRUDRoundTrip(t *testing.T) {
	e, err := New(Config{Order: 4})
	require.NoError(t, err)

	require.NoError(t, e.Put(types.Key("user:1001"), types.Value("zhang")))
	require.NoError(t, e.Put(types.Key("user:1002"), types.Value("li")))
	require.NoError(t, e.Update(types.Key("user:1001"), types.Value("zhang-v2")))
	require.NoError(t, e.Delete(types.Key("user:1002")))

	assert.Equal(t, 1, e.Count())
	v, err := e.Get(types.Key("user:1001"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("zhang-v2"), v)

	_, err = e.Get(types.Key("user:1002"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
}

func TestOrderedLeafChainScan(t *testing.T) {
	e, err := New(Config{Order: 4})
	require.NoError(t, err)
	input := []string{"delta", "alpha", "foxtrot", "charlie", "bravo", "echo"}
	for _, k := range input {
		require.NoError(t, e.Put(types.Key(k), types.Value(k)))
	}

	n := e.root
	for !n.leaf {
		n = n.children[0]
	}
	var got []string
	for n != nil {
		for _, k := range n.keys {
			got = append(got, string(k))
		}
		n = n.next
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"}, got)
}

func TestRandomInsertDeleteKeepsCountConsistent(t *testing.T) {
	e, err := New(Config{Order: 5})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(7))

	present := map[string]bool{}
	for i := 0; i < 3000; i++ {
		k := fmt.Sprintf("k%04d", r.Intn(800))
		if r.Intn(2) == 0 {
			require.NoError(t, e.Put(types.Key(k), types.Value(k)))
			present[k] = true
		} else if present[k] {
			require.NoError(t, e.Delete(types.Key(k)))
			delete(present, k)
		}
	}
	assert.Equal(t, len(present), e.Count())
	for k := range present {
		_, err := e.Get(types.Key(k))
		assert.NoError(t, err)
	}
}

// TestInternalNodeFillFactor checks the structural invariant: every
// non-root internal node has between ceil(order/2) and order children.
func TestInternalNodeFillFactor(t *testing.T) {
	const order = 4
	e, err := New(Config{Order: order})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(11))

	present := map[string]bool{}
	for i := 0; i < 1000; i++ {
		k := fmt.Sprintf("k%04d", i)
		require.NoError(t, e.Put(types.Key(k), types.Value(k)))
		present[k] = true
	}
	for i := 0; i < 400; i++ {
		k := fmt.Sprintf("k%04d", r.Intn(1000))
		if present[k] {
			require.NoError(t, e.Delete(types.Key(k)))
			delete(present, k)
		}
	}

	min := (order + 1) / 2
	var walk func(n *bpNode)
	walk = func(n *bpNode) {
		if n.leaf {
			return
		}
		if n != e.root {
			assert.GreaterOrEqual(t, len(n.children), min)
			assert.LessOrEqual(t, len(n.children), order)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(e.root)
}

func TestHotCacheServesRepeatLookup(t *testing.T) {
	e, err := New(Config{Order: 4, CacheEnabled: true, CacheCapacity: 64})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("k%04d", i)
		require.NoError(t, e.Put(types.Key(k), types.Value(k)))
	}

	_, err = e.Get(types.Key("k0010"))
	require.NoError(t, err)
	_, err = e.Get(types.Key("k0010"))
	require.NoError(t, err)

	stats := e.Stats()
	assert.Greater(t, stats.CacheHitRate, 0.0)
}

func TestAdaptiveSizerRecommendsWithinBounds(t *testing.T) {
	e, err := New(Config{Order: 8, Adaptive: true})
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		k := fmt.Sprintf("k%04d", i)
		require.NoError(t, e.Put(types.Key(k), types.Value(k)))
	}
	rec := e.RecommendedOrder()
	assert.GreaterOrEqual(t, rec, minOrder)
	assert.LessOrEqual(t, rec, maxOrder)
}

func TestDoubleDeleteReturnsNotFound(t *testing.T) {
	e, err := New(Config{Order: 4})
	require.NoError(t, err)
	require.NoError(t, e.Put(types.Key("k"), types.Value("v")))
	require.NoError(t, e.Delete(types.Key("k")))
	assert.True(t, kverrors.Is(e.Delete(types.Key("k")), kverrors.NotFound))
}
