package rbtree

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
	e, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, e.Put(types.Key("user:1001"), types.Value("zhang")))
	require.NoError(t, e.Put(types.Key("user:1002"), types.Value("li")))
	require.NoError(t, e.Update(types.Key("user:1001"), types.Value("zhang-v2")))
	require.NoError(t, e.Delete(types.Key("user:1002")))

	assert.Equal(t, 1, e.Count())
	v, err := e.Get(types.Key("user:1001"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("zhang-v2"), v)
}

func TestOrderedIteration(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	input := []string{"delta", "alpha", "charlie", "bravo"}
	for _, k := range input {
		require.NoError(t, e.Put(types.Key(k), types.Value(k)))
	}
	keys := e.Keys()
	want := []string{"alpha", "bravo", "charlie", "delta"}
	got := make([]string, len(keys))
	for i, k := range keys {
		got[i] = string(k)
	}
	assert.Equal(t, want, got)
}

func TestRandomInsertDeleteKeepsCountConsistent(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(42))

	present := map[string]bool{}
	for i := 0; i < 2000; i++ {
		k := fmt.Sprintf("k%d", r.Intn(500))
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

func TestDoubleDeleteReturnsNotFound(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, e.Put(types.Key("k"), types.Value("v")))
	require.NoError(t, e.Delete(types.Key("k")))
	assert.True(t, kverrors.Is(e.Delete(types.Key("k")), kverrors.NotFound))
}
