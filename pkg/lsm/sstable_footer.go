package lsm

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

// sstableMagic identifies a well-formed SSTable file footer.
const sstableMagic uint32 = 0x434b5354 // "CKST"

const sstableVersion uint32 = 1

// footerSize is the fixed 64-byte trailer every SSTable file ends with:
// magic(4), version(4), index_offset(8), index_size(4), bloom_offset(8),
// bloom_size(4), min_seq(8), max_seq(8), entry_count(8), crc32(4), plus 4
// reserved zero bytes. Every field is written explicitly with
// binary.LittleEndian rather than relying on Go struct layout, so no
// implementation can introduce implicit alignment padding. The CRC is
// computed over the whole 64-byte buffer with its own CRC field zeroed.
const footerSize = 4 + 4 + 8 + 4 + 8 + 4 + 8 + 8 + 8 + 4 + 4

type sstableFooter struct {
	indexOffset uint64
	indexSize   uint32
	bloomOffset uint64
	bloomSize   uint32
	minSeq      uint64
	maxSeq      uint64
	entryCount  uint64
}

func (f sstableFooter) encode() []byte {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint32(buf[0:4], sstableMagic)
	binary.LittleEndian.PutUint32(buf[4:8], sstableVersion)
	binary.LittleEndian.PutUint64(buf[8:16], f.indexOffset)
	binary.LittleEndian.PutUint32(buf[16:20], f.indexSize)
	binary.LittleEndian.PutUint64(buf[20:28], f.bloomOffset)
	binary.LittleEndian.PutUint32(buf[28:32], f.bloomSize)
	binary.LittleEndian.PutUint64(buf[32:40], f.minSeq)
	binary.LittleEndian.PutUint64(buf[40:48], f.maxSeq)
	binary.LittleEndian.PutUint64(buf[48:56], f.entryCount)
	crc := crc32.ChecksumIEEE(buf) // CRC field and reserved tail still zero here
	binary.LittleEndian.PutUint32(buf[56:60], crc)
	return buf
}

func decodeFooter(buf []byte) (sstableFooter, error) {
	if len(buf) != footerSize {
		return sstableFooter{}, kverrors.New("lsm.sstable.open", kverrors.Corruption)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	version := binary.LittleEndian.Uint32(buf[4:8])
	if magic != sstableMagic || version != sstableVersion {
		return sstableFooter{}, kverrors.New("lsm.sstable.open", kverrors.Corruption)
	}
	wantCRC := binary.LittleEndian.Uint32(buf[56:60])
	zeroed := make([]byte, footerSize)
	copy(zeroed, buf)
	binary.LittleEndian.PutUint32(zeroed[56:60], 0)
	if crc32.ChecksumIEEE(zeroed) != wantCRC {
		return sstableFooter{}, kverrors.New("lsm.sstable.open", kverrors.Corruption)
	}
	return sstableFooter{
		indexOffset: binary.LittleEndian.Uint64(buf[8:16]),
		indexSize:   binary.LittleEndian.Uint32(buf[16:20]),
		bloomOffset: binary.LittleEndian.Uint64(buf[20:28]),
		bloomSize:   binary.LittleEndian.Uint32(buf[28:32]),
		minSeq:      binary.LittleEndian.Uint64(buf[32:40]),
		maxSeq:      binary.LittleEndian.Uint64(buf[40:48]),
		entryCount:  binary.LittleEndian.Uint64(buf[48:56]),
	}, nil
}
