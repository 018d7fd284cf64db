package lsm

import (
	"os"
	"sort"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/bloom"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// SSTable is an opened, read-only handle onto an on-disk table: its index
// block is fully resident, its bloom filter is fully resident, and data
// blocks are read from disk on demand.
type SSTable struct {
	path       string
	index      []indexEntry
	filter     *bloom.Filter
	minKey     types.Key
	maxKey     types.Key
	minSeq     uint64
	maxSeq     uint64
	entryCount uint64
}

// OpenSSTable parses path's footer, index block, and bloom block.
func OpenSSTable(path string) (*SSTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kverrors.Wrap("lsm.sstable.open", kverrors.IO, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, kverrors.Wrap("lsm.sstable.open", kverrors.IO, err)
	}
	if stat.Size() < footerSize {
		return nil, kverrors.New("lsm.sstable.open", kverrors.Corruption)
	}

	footerBuf := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBuf, stat.Size()-footerSize); err != nil {
		return nil, kverrors.Wrap("lsm.sstable.open", kverrors.IO, err)
	}
	footer, err := decodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}

	indexBuf := make([]byte, footer.indexSize)
	if _, err := f.ReadAt(indexBuf, int64(footer.indexOffset)); err != nil {
		return nil, kverrors.Wrap("lsm.sstable.open", kverrors.IO, err)
	}
	indexPayload, count, err := decodeBlock(indexBuf, blockTypeIndex)
	if err != nil {
		return nil, err
	}
	index, err := decodeIndexBlock(indexPayload, count)
	if err != nil {
		return nil, err
	}
	if len(index) == 0 {
		return nil, kverrors.New("lsm.sstable.open", kverrors.Corruption)
	}

	bloomBuf := make([]byte, footer.bloomSize)
	if _, err := f.ReadAt(bloomBuf, int64(footer.bloomOffset)); err != nil {
		return nil, kverrors.Wrap("lsm.sstable.open", kverrors.IO, err)
	}
	filter, err := bloom.Load(bloomBuf)
	if err != nil {
		return nil, err
	}

	return &SSTable{
		path:       path,
		index:      index,
		filter:     filter,
		minKey:     index[0].firstKey,
		minSeq:     footer.minSeq,
		maxSeq:     footer.maxSeq,
		entryCount: footer.entryCount,
	}, nil
}

// SeqRange returns the smallest and largest record sequence stored in this
// table, as recorded in its footer.
func (s *SSTable) SeqRange() (uint64, uint64) { return s.minSeq, s.maxSeq }

// EntryCount returns the footer's record count.
func (s *SSTable) EntryCount() uint64 { return s.entryCount }

// Path returns the backing file path.
func (s *SSTable) Path() string { return s.path }

// MinKey returns the smallest key this table's index knows of (its first
// block's first key; an exact lower bound since blocks are written in
// ascending key order).
func (s *SSTable) MinKey() types.Key { return s.minKey }

// Get looks up key, consulting the bloom filter before touching disk.
func (s *SSTable) Get(key types.Key) (types.Record, bool, error) {
	if !s.filter.MightContain(key) {
		return types.Record{}, false, nil
	}
	i := sort.Search(len(s.index), func(i int) bool {
		return types.Compare(s.index[i].firstKey, key) > 0
	}) - 1
	if i < 0 {
		return types.Record{}, false, nil
	}
	block, err := s.readBlock(s.index[i])
	if err != nil {
		return types.Record{}, false, err
	}
	for off := 0; off < len(block); {
		rec, n, err := decodeRecordAt(block[off:])
		if err != nil {
			return types.Record{}, false, err
		}
		if types.Compare(rec.Key, key) == 0 {
			return rec, true, nil
		}
		off += n
	}
	return types.Record{}, false, nil
}

func (s *SSTable) readBlock(e indexEntry) ([]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, kverrors.Wrap("lsm.sstable.read", kverrors.IO, err)
	}
	defer f.Close()
	buf := make([]byte, e.size)
	if _, err := f.ReadAt(buf, int64(e.offset)); err != nil {
		return nil, kverrors.Wrap("lsm.sstable.read", kverrors.IO, err)
	}
	payload, _, err := decodeBlock(buf, blockTypeData)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// AllRecords decodes every data block in key order, for compaction merges.
func (s *SSTable) AllRecords() ([]types.Record, error) {
	var out []types.Record
	for _, e := range s.index {
		block, err := s.readBlock(e)
		if err != nil {
			return nil, err
		}
		for off := 0; off < len(block); {
			rec, n, err := decodeRecordAt(block[off:])
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
			off += n
		}
	}
	return out, nil
}
