package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocBasic(t *testing.T) {
	a, err := New(Config{BlockSize: 64})
	require.NoError(t, err)

	b1, err := a.Alloc(10)
	require.NoError(t, err)
	assert.Len(t, b1, 10)

	b2, err := a.Alloc(20)
	require.NoError(t, err)
	assert.Len(t, b2, 20)

	stats := a.Stats()
	assert.Equal(t, uint64(2), stats.TotalAllocations)
	assert.Equal(t, uint64(30), stats.BytesAllocated)
}

func TestAllocRotatesBlockOnExhaustion(t *testing.T) {
	a, err := New(Config{BlockSize: 16})
	require.NoError(t, err)

	_, err = a.Alloc(10)
	require.NoError(t, err)
	_, err = a.Alloc(10)
	require.NoError(t, err)

	stats := a.Stats()
	assert.Equal(t, uint64(2), stats.BlockAllocations)
}

func TestAllocAlignedRoundsUp(t *testing.T) {
	a, err := New(Config{BlockSize: 4096})
	require.NoError(t, err)

	_, err = a.Alloc(3)
	require.NoError(t, err)

	aligned, err := a.AllocAligned(8, 8)
	require.NoError(t, err)
	assert.Len(t, aligned, 8)
}

func TestOversizedRequestGetsDedicatedBlock(t *testing.T) {
	a, err := New(Config{BlockSize: 16})
	require.NoError(t, err)

	big, err := a.Alloc(1024)
	require.NoError(t, err)
	assert.Len(t, big, 1024)
}

func TestCompactReclaimsNonCurrentBlocks(t *testing.T) {
	a, err := New(Config{BlockSize: 16, EnableBlockCache: true, MaxCachedBlocks: 4})
	require.NoError(t, err)

	_, err = a.Alloc(10)
	require.NoError(t, err)
	_, err = a.Alloc(10)
	require.NoError(t, err)

	reclaimed := a.Compact()
	assert.Greater(t, reclaimed, uint64(0))
}

func TestInvalidArgOnBadConfig(t *testing.T) {
	_, err := New(Config{BlockSize: -1})
	assert.Error(t, err)
}

func TestMultiThreadConcurrentAlloc(t *testing.T) {
	a, err := New(Config{BlockSize: 256, ThreadMode: MultiThread})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Alloc(4)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(50), a.Stats().TotalAllocations)
}

func TestDestroyIsIdempotent(t *testing.T) {
	a, err := New(Config{BlockSize: 64})
	require.NoError(t, err)
	_, _ = a.Alloc(10)

	a.Destroy()
	assert.NotPanics(t, func() { a.Destroy() })
}
