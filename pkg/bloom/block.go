package bloom

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

// BlockTypeBloom identifies a serialized bloom filter inside the shared
// 24-byte packed block-header layout every on-disk block kind uses
// (SSTable data/index/bloom blocks share the same header shape).
const BlockTypeBloom = 2

// blockHeaderSize is fixed at 24 bytes: type, compressed_size,
// uncompressed_size, crc32, entry_count, reserved — each a u32. Every field
// is encoded explicitly with binary.LittleEndian rather than relying on Go
// struct layout, so no implementation can introduce implicit alignment
// padding.
const blockHeaderSize = 24

type blockHeader struct {
	typ              uint32
	compressedSize   uint32
	uncompressedSize uint32
	crc32            uint32
	entryCount       uint32
	reserved         uint32 // exact bit count for bloom blocks
}

func (h blockHeader) encode() []byte {
	buf := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.typ)
	binary.LittleEndian.PutUint32(buf[4:8], h.compressedSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.uncompressedSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.crc32)
	binary.LittleEndian.PutUint32(buf[16:20], h.entryCount)
	binary.LittleEndian.PutUint32(buf[20:24], h.reserved)
	return buf
}

func decodeBlockHeader(buf []byte) (blockHeader, error) {
	if len(buf) < blockHeaderSize {
		return blockHeader{}, kverrors.New("bloom.load", kverrors.Corruption)
	}
	return blockHeader{
		typ:              binary.LittleEndian.Uint32(buf[0:4]),
		compressedSize:   binary.LittleEndian.Uint32(buf[4:8]),
		uncompressedSize: binary.LittleEndian.Uint32(buf[8:12]),
		crc32:            binary.LittleEndian.Uint32(buf[12:16]),
		entryCount:       binary.LittleEndian.Uint32(buf[16:20]),
		reserved:         binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// Serialize encodes the filter as a self-describing block: the packed
// header (with the exact bit count in `reserved`) followed by a small
// fixed-format payload (hash count, hash kind, then the raw bit words). The
// header's crc32 field holds a CRC over header and payload computed with
// that field zeroed, the same convention the SSTable footer uses.
func (f *Filter) Serialize() []byte {
	payload := make([]byte, 8+len(f.bits)*8)
	binary.LittleEndian.PutUint32(payload[0:4], f.k)
	binary.LittleEndian.PutUint32(payload[4:8], uint32(f.hash))
	for i, w := range f.bits {
		binary.LittleEndian.PutUint64(payload[8+i*8:16+i*8], w)
	}

	h := blockHeader{
		typ:              BlockTypeBloom,
		compressedSize:   uint32(len(payload)),
		uncompressedSize: uint32(len(payload)),
		entryCount:       uint32(len(f.bits)),
		reserved:         uint32(f.m),
	}
	h.crc32 = crc32.ChecksumIEEE(append(h.encode(), payload...))

	out := make([]byte, 0, blockHeaderSize+len(payload))
	out = append(out, h.encode()...)
	out = append(out, payload...)
	return out
}

// Load reconstructs a Filter from a block written by Serialize, validating
// its CRC and restoring the exact bit count from the header's reserved
// field rather than inferring it from the payload's byte length.
func Load(data []byte) (*Filter, error) {
	if len(data) < blockHeaderSize {
		return nil, kverrors.New("bloom.load", kverrors.Corruption)
	}
	h, err := decodeBlockHeader(data[:blockHeaderSize])
	if err != nil {
		return nil, err
	}
	if h.typ != BlockTypeBloom {
		return nil, kverrors.New("bloom.load", kverrors.Corruption)
	}
	payload := data[blockHeaderSize:]
	if uint32(len(payload)) != h.uncompressedSize {
		return nil, kverrors.New("bloom.load", kverrors.Corruption)
	}

	zeroed := h
	zeroed.crc32 = 0
	want := crc32.ChecksumIEEE(append(zeroed.encode(), payload...))
	if want != h.crc32 {
		return nil, kverrors.New("bloom.load", kverrors.Corruption)
	}

	if len(payload) < 8 {
		return nil, kverrors.New("bloom.load", kverrors.Corruption)
	}
	k := binary.LittleEndian.Uint32(payload[0:4])
	hash := HashKind(binary.LittleEndian.Uint32(payload[4:8]))
	wordBytes := payload[8:]
	if len(wordBytes)%8 != 0 {
		return nil, kverrors.New("bloom.load", kverrors.Corruption)
	}
	bits := make([]uint64, len(wordBytes)/8)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(wordBytes[i*8 : i*8+8])
	}

	return &Filter{bits: bits, m: uint64(h.reserved), k: k, hash: hash}, nil
}
