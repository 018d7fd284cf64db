package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine/bptree"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/wal"
)

func bptreeConfig(dir string) Config {
	return Config{
		Dir: dir,
		Engine: engine.Config{
			Kind:   types.EngineBPlusTree,
			BPTree: bptree.Config{Order: 100},
		},
	}
}

func TestStoreCRUDRoundTrip(t *testing.T) {
	s, err := Open(bptreeConfig(t.TempDir()))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(types.Key("user:1001"), types.Value("zhang")))
	require.NoError(t, s.Put(types.Key("user:1002"), types.Value("li")))
	require.NoError(t, s.Update(types.Key("user:1001"), types.Value("zhang-v2")))
	require.NoError(t, s.Delete(types.Key("user:1002")))

	assert.Equal(t, 1, s.Count())

	v, err := s.Get(types.Key("user:1001"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("zhang-v2"), v)

	_, err = s.Get(types.Key("user:1002"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
}

func TestStoreRecoversFromWALAfterReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := bptreeConfig(dir)

	s, err := Open(cfg)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		key := types.Key(fmt.Sprintf("key-%d", i))
		require.NoError(t, s.Put(key, types.Value(fmt.Sprintf("value-%d", i))))
	}
	require.NoError(t, s.Put(types.Key("key-3"), types.Value("value-3-final")))
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	rec := s2.Recovery()
	assert.True(t, rec.Needed)
	assert.GreaterOrEqual(t, rec.ReplayedEntries, uint64(10))
	assert.Equal(t, uint64(1), s2.Stats().WAL.Recoveries)

	v, err := s2.Get(types.Key("key-3"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("value-3-final"), v)
	for i := 0; i < 10; i++ {
		if i == 3 {
			continue
		}
		v, err := s2.Get(types.Key(fmt.Sprintf("key-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, types.Value(fmt.Sprintf("value-%d", i)), v)
	}
	assert.Equal(t, 10, s2.Count())
}

func TestStoreFullSnapshotThenWALTailReplay(t *testing.T) {
	dir := t.TempDir()
	cfg := bptreeConfig(dir)

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Put(types.Key("a"), types.Value("1")))
	require.NoError(t, s.Put(types.Key("b"), types.Value("2")))

	_, err = s.Snapshot(wal.SnapshotFull)
	require.NoError(t, err)

	// Mutations past the snapshot live only in the WAL tail.
	require.NoError(t, s.Put(types.Key("c"), types.Value("3")))
	require.NoError(t, s.Delete(types.Key("a")))
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	assert.True(t, s2.Recovery().Needed)
	assert.Equal(t, 2, s2.Count())
	_, err = s2.Get(types.Key("a"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
	v, err := s2.Get(types.Key("c"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("3"), v)
}

func TestStoreIncrementalSnapshotRestoresDiff(t *testing.T) {
	dir := t.TempDir()
	cfg := bptreeConfig(dir)

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Put(types.Key("a"), types.Value("1")))
	require.NoError(t, s.Put(types.Key("b"), types.Value("2")))
	_, err = s.Snapshot(wal.SnapshotFull)
	require.NoError(t, err)

	require.NoError(t, s.Update(types.Key("a"), types.Value("1-v2")))
	require.NoError(t, s.Delete(types.Key("b")))
	require.NoError(t, s.Put(types.Key("c"), types.Value("3")))
	_, err = s.Snapshot(wal.SnapshotIncremental)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, 2, s2.Count())
	v, err := s2.Get(types.Key("a"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("1-v2"), v)
	_, err = s2.Get(types.Key("b"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
}

func TestStoreIncrementalSnapshotWithoutFullIsInvalid(t *testing.T) {
	s, err := Open(bptreeConfig(t.TempDir()))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(types.Key("a"), types.Value("1")))
	_, err = s.Snapshot(wal.SnapshotIncremental)
	assert.True(t, kverrors.Is(err, kverrors.InvalidState))
}

func TestStoreRejectsEmptyDir(t *testing.T) {
	_, err := Open(Config{})
	assert.True(t, kverrors.Is(err, kverrors.InvalidArg))
}

func TestRecordCodecRoundTrip(t *testing.T) {
	in := []types.Record{
		{Key: types.Key("a"), Value: types.Value("1")},
		{Key: types.Key(""), Value: types.Value("")}, // empty key and value are legal
		{Key: types.Key("gone"), Deleted: true},
	}
	out, err := decodeRecords(encodeRecords(in))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, types.Key("a"), out[0].Key)
	assert.True(t, out[2].Deleted)

	_, err = decodeRecords([]byte{0, 0, 0, 9, 1})
	assert.True(t, kverrors.Is(err, kverrors.Corruption))
}
