package hash

import (
	"fmt"
	"sync"
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

	_, err = e.Get(types.Key("user:1002"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
}

func TestResizeRetainsAllKeys(t *testing.T) {
	e, err := New(Config{InitialBuckets: 4, LoadFactor: 0.5})
	require.NoError(t, err)

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, e.Put(types.Key(fmt.Sprintf("k%d", i)), types.Value(fmt.Sprintf("v%d", i))))
	}
	assert.Equal(t, n, e.Count())
	for i := 0; i < n; i++ {
		v, err := e.Get(types.Key(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		assert.Equal(t, types.Value(fmt.Sprintf("v%d", i)), v)
	}
}

func TestConcurrentPutsDistinctKeys(t *testing.T) {
	e, err := New(Config{InitialBuckets: 16})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := types.Key(fmt.Sprintf("g%d-k%d", g, i))
				_ = e.Put(key, types.Value("v"))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 1600, e.Count())
}

func TestInitialBucketsRoundUpToPowerOfTwo(t *testing.T) {
	e, err := New(Config{InitialBuckets: 10})
	require.NoError(t, err)
	assert.Equal(t, 16, len(e.buckets))
}

func TestDoubleDeleteReturnsNotFound(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, e.Put(types.Key("k"), types.Value("v")))
	require.NoError(t, e.Delete(types.Key("k")))
	assert.True(t, kverrors.Is(e.Delete(types.Key("k")), kverrors.NotFound))
}
