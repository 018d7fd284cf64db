package lsm

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

func TestLSMPutGetDelete(t *testing.T) {
	l, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Put(types.Key("k1"), types.Value("v1")))
	v, err := l.Get(types.Key("k1"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("v1"), v)

	require.NoError(t, l.Delete(types.Key("k1")))
	_, err = l.Get(types.Key("k1"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
}

func TestLSMDeleteMissingKeyReturnsNotFound(t *testing.T) {
	l, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer l.Close()

	err = l.Delete(types.Key("nope"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
}

func TestLSMUpdateNeverInserts(t *testing.T) {
	l, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer l.Close()

	err = l.Update(types.Key("nope"), types.Value("v"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))

	require.NoError(t, l.Put(types.Key("k"), types.Value("v1")))
	require.NoError(t, l.Update(types.Key("k"), types.Value("v2")))
	v, err := l.Get(types.Key("k"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("v2"), v)
}

func TestLSMFlushesToSSTableOnThreshold(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Dir: dir, MemTableEntries: 4})
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 20; i++ {
		key := types.Key(fmt.Sprintf("key-%03d", i))
		require.NoError(t, l.Put(key, types.Value("v")))
	}

	require.Eventually(t, func() bool {
		return len(l.lvl.levelSnapshot(0)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 20; i++ {
		key := types.Key(fmt.Sprintf("key-%03d", i))
		v, err := l.Get(key)
		require.NoError(t, err, "key %s should still be visible after flush", key)
		assert.Equal(t, types.Value("v"), v)
	}
}

func TestLSMRecoversUnflushedWritesFromWAL(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Dir: dir})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		key := types.Key(fmt.Sprintf("key-%02d", i))
		require.NoError(t, l.Put(key, types.Value("v")))
	}
	require.NoError(t, l.Close())

	l2, err := New(Config{Dir: dir})
	require.NoError(t, err)
	defer l2.Close()

	for i := 0; i < 10; i++ {
		key := types.Key(fmt.Sprintf("key-%02d", i))
		v, err := l2.Get(key)
		require.NoError(t, err)
		assert.Equal(t, types.Value("v"), v)
	}
}

func TestLSMCompactionMergesL0IntoL1(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Dir:                     dir,
		MemTableEntries:         2,
		Level0CompactionTrigger: 2,
	})
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 40; i++ {
		key := types.Key(fmt.Sprintf("key-%03d", i))
		require.NoError(t, l.Put(key, types.Value("v")))
	}

	require.Eventually(t, func() bool {
		return len(l.lvl.levelSnapshot(1)) > 0
	}, 3*time.Second, 20*time.Millisecond)

	for i := 0; i < 40; i++ {
		key := types.Key(fmt.Sprintf("key-%03d", i))
		v, err := l.Get(key)
		require.NoError(t, err, "key %s should survive compaction", key)
		assert.Equal(t, types.Value("v"), v)
	}
}

func TestLSMCountReflectsLiveKeysAcrossMemtableAndDisk(t *testing.T) {
	l, err := New(Config{Dir: t.TempDir(), MemTableEntries: 3})
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Put(types.Key(fmt.Sprintf("k%02d", i)), types.Value("v")))
	}
	require.Eventually(t, func() bool { return l.Count() == 10 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, l.Delete(types.Key("k00")))
	assert.Equal(t, 9, l.Count())
}
