package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

func sortedRecords(n int) []types.Record {
	out := make([]types.Record, n)
	for i := 0; i < n; i++ {
		out[i] = types.Record{
			Key:   types.Key(fmt.Sprintf("key-%04d", i)),
			Value: types.Value(fmt.Sprintf("value-%d", i)),
			Seq:   uint64(i + 1),
		}
	}
	return out
}

func TestSSTableWriteAndGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L0-1.sst")
	records := sortedRecords(200)

	require.NoError(t, WriteSSTable(path, records, 256, 0.01))

	sst, err := OpenSSTable(path)
	require.NoError(t, err)

	rec, ok, err := sst.Get(types.Key("key-0099"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.Value("value-99"), rec.Value)

	_, ok, err = sst.Get(types.Key("missing-key"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSSTableAllRecordsPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L0-2.sst")
	records := sortedRecords(50)
	require.NoError(t, WriteSSTable(path, records, 256, 0.01))

	sst, err := OpenSSTable(path)
	require.NoError(t, err)

	got, err := sst.AllRecords()
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, r := range got {
		assert.Equal(t, records[i].Key, r.Key)
		assert.Equal(t, records[i].Value, r.Value)
	}
}

func TestSSTableOpenRejectsCorruptFooter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.sst")
	records := sortedRecords(5)
	require.NoError(t, WriteSSTable(path, records, 256, 0.01))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = OpenSSTable(path)
	require.Error(t, err)
}

func TestFooterAndBlockHeaderPackedSizes(t *testing.T) {
	assert.Equal(t, 64, footerSize)
	assert.Equal(t, 24, blockHeaderSize)
	f := sstableFooter{indexOffset: 1, indexSize: 2, bloomOffset: 3, bloomSize: 4, minSeq: 5, maxSeq: 6, entryCount: 7}
	assert.Len(t, f.encode(), 64)
	h := blockHeader{typ: blockTypeData, compressedSize: 8, uncompressedSize: 9, entryCount: 10}
	assert.Len(t, h.encode(), 24)
}

func TestFooterCRCComputedWithFieldZeroed(t *testing.T) {
	f := sstableFooter{indexOffset: 100, indexSize: 32, bloomOffset: 132, bloomSize: 48, minSeq: 1, maxSeq: 9, entryCount: 9}
	buf := f.encode()

	got, err := decodeFooter(buf)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	// Any flipped bit, including in the reserved tail, must be rejected.
	for _, i := range []int{0, 33, 57, 63} {
		bad := append([]byte(nil), buf...)
		bad[i] ^= 0x01
		_, err := decodeFooter(bad)
		assert.Error(t, err, "flipped byte %d", i)
	}
}

func TestSSTableFooterSeqRangeAndEntryCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L0-3.sst")
	records := sortedRecords(25)
	require.NoError(t, WriteSSTable(path, records, 128, 0.01))

	sst, err := OpenSSTable(path)
	require.NoError(t, err)
	lo, hi := sst.SeqRange()
	assert.Equal(t, uint64(1), lo)
	assert.Equal(t, uint64(25), hi)
	assert.Equal(t, uint64(25), sst.EntryCount())
}
