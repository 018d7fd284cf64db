package lsm

import (
	"encoding/binary"
	"os"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/bloom"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// indexEntry maps one data block's first key to its location in the file.
type indexEntry struct {
	firstKey types.Key
	offset   uint64
	size     uint32
}

func encodeIndexBlock(entries []indexEntry) []byte {
	var buf []byte
	for _, e := range entries {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.firstKey)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, e.firstKey...)
		var locBuf [12]byte
		binary.BigEndian.PutUint64(locBuf[0:8], e.offset)
		binary.BigEndian.PutUint32(locBuf[8:12], e.size)
		buf = append(buf, locBuf[:]...)
	}
	return buf
}

func decodeIndexBlock(buf []byte, count uint32) ([]indexEntry, error) {
	out := make([]indexEntry, 0, count)
	off := 0
	for i := uint32(0); i < count; i++ {
		if off+4 > len(buf) {
			return nil, kverrors.New("lsm.sstable.open", kverrors.Corruption)
		}
		klen := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+klen+12 > len(buf) {
			return nil, kverrors.New("lsm.sstable.open", kverrors.Corruption)
		}
		key := append(types.Key(nil), buf[off:off+klen]...)
		off += klen
		offset := binary.BigEndian.Uint64(buf[off : off+8])
		size := binary.BigEndian.Uint32(buf[off+8 : off+12])
		off += 12
		out = append(out, indexEntry{firstKey: key, offset: offset, size: size})
	}
	return out, nil
}

// encodeRecord packs one record as (seq, key_len, deleted, val_len, key,
// value). The sequence survives the flush and feeds the footer's seq range;
// it counts writes within one MemTable only, so compaction orders versions
// of a key by table age rather than by sequence.
func encodeRecord(r types.Record) []byte {
	deleted := byte(0)
	if r.Deleted {
		deleted = 1
	}
	buf := make([]byte, 8+4+1+4+len(r.Key)+len(r.Value))
	binary.BigEndian.PutUint64(buf[0:8], r.Seq)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(r.Key)))
	buf[12] = deleted
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(r.Value)))
	off := 17
	off += copy(buf[off:], r.Key)
	copy(buf[off:], r.Value)
	return buf
}

func decodeRecordAt(buf []byte) (types.Record, int, error) {
	if len(buf) < 17 {
		return types.Record{}, 0, kverrors.New("lsm.sstable.decode", kverrors.Corruption)
	}
	seq := binary.BigEndian.Uint64(buf[0:8])
	klen := int(binary.BigEndian.Uint32(buf[8:12]))
	deleted := buf[12] != 0
	vlen := int(binary.BigEndian.Uint32(buf[13:17]))
	total := 17 + klen + vlen
	if total > len(buf) {
		return types.Record{}, 0, kverrors.New("lsm.sstable.decode", kverrors.Corruption)
	}
	off := 17
	key := append(types.Key(nil), buf[off:off+klen]...)
	off += klen
	var val types.Value
	if vlen > 0 {
		val = append(types.Value(nil), buf[off:off+vlen]...)
	}
	return types.Record{Key: key, Value: val, Seq: seq, Deleted: deleted}, total, nil
}

// WriteSSTable writes records (already sorted by key, ascending, one entry
// per key) to path as a self-contained SSTable: data blocks of roughly
// targetBlockSize uncompressed bytes, an index block keyed by each data
// block's first key, a bloom filter over every key, and a footer written
// last.
func WriteSSTable(path string, records []types.Record, targetBlockSize int, fpRate float64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return kverrors.Wrap("lsm.sstable.write", kverrors.IO, err)
	}
	defer f.Close()

	if len(records) == 0 {
		return kverrors.New("lsm.sstable.write", kverrors.InvalidArg)
	}

	filter, err := bloom.New(bloom.Config{ExpectedEntries: uint64(len(records)), FPRate: fpRate, Hash: bloom.Auto})
	if err != nil {
		return err
	}

	var offset uint64
	var index []indexEntry
	var payload []byte
	var blockCount uint32
	var firstKeyInBlock types.Key

	minSeq, maxSeq := records[0].Seq, records[0].Seq

	flushBlock := func() error {
		if blockCount == 0 {
			return nil
		}
		block := encodeBlock(blockTypeData, blockCount, payload)
		if _, err := f.Write(block); err != nil {
			return kverrors.Wrap("lsm.sstable.write", kverrors.IO, err)
		}
		index = append(index, indexEntry{firstKey: firstKeyInBlock, offset: offset, size: uint32(len(block))})
		offset += uint64(len(block))
		payload = nil
		blockCount = 0
		return nil
	}

	for _, r := range records {
		filter.Add(r.Key)
		if r.Seq < minSeq {
			minSeq = r.Seq
		}
		if r.Seq > maxSeq {
			maxSeq = r.Seq
		}
		if blockCount == 0 {
			firstKeyInBlock = r.Key.Clone()
		}
		payload = append(payload, encodeRecord(r)...)
		blockCount++
		if len(payload) >= targetBlockSize {
			if err := flushBlock(); err != nil {
				return err
			}
		}
	}
	if err := flushBlock(); err != nil {
		return err
	}

	indexPayload := encodeIndexBlock(index)
	indexBlock := encodeBlock(blockTypeIndex, uint32(len(index)), indexPayload)
	indexOffset := offset
	if _, err := f.Write(indexBlock); err != nil {
		return kverrors.Wrap("lsm.sstable.write", kverrors.IO, err)
	}
	offset += uint64(len(indexBlock))

	bloomBlock := filter.Serialize()
	bloomOffset := offset
	if _, err := f.Write(bloomBlock); err != nil {
		return kverrors.Wrap("lsm.sstable.write", kverrors.IO, err)
	}

	footer := sstableFooter{
		indexOffset: indexOffset,
		indexSize:   uint32(len(indexBlock)),
		bloomOffset: bloomOffset,
		bloomSize:   uint32(len(bloomBlock)),
		minSeq:      minSeq,
		maxSeq:      maxSeq,
		entryCount:  uint64(len(records)),
	}
	if _, err := f.Write(footer.encode()); err != nil {
		return kverrors.Wrap("lsm.sstable.write", kverrors.IO, err)
	}
	return f.Sync()
}
