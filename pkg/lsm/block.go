package lsm

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/golang/snappy"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

// Block type tags for the shared 24-byte packed header every SSTable block
// uses, the same shape pkg/bloom uses for its own serialized filter blocks:
// type, compressed_size, uncompressed_size, crc32, entry_count, reserved.
const (
	blockTypeData  = 0
	blockTypeIndex = 1
)

const blockHeaderSize = 24

type blockHeader struct {
	typ              uint32
	compressedSize   uint32
	uncompressedSize uint32
	crc32            uint32
	entryCount       uint32
	reserved         uint32
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
		return blockHeader{}, kverrors.New("lsm.block.decode", kverrors.Corruption)
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

// encodeBlock compresses payload with snappy, then prefixes the packed header with its CRC field
// zeroed before computing the real CRC over header+payload.
func encodeBlock(typ uint32, entryCount uint32, payload []byte) []byte {
	compressed := snappy.Encode(nil, payload)
	h := blockHeader{
		typ:              typ,
		compressedSize:   uint32(len(compressed)),
		uncompressedSize: uint32(len(payload)),
		entryCount:       entryCount,
	}
	h.crc32 = crc32.ChecksumIEEE(append(h.encode(), compressed...))
	out := make([]byte, 0, blockHeaderSize+len(compressed))
	out = append(out, h.encode()...)
	out = append(out, compressed...)
	return out
}

// decodeBlock validates the header CRC and returns the decompressed
// payload plus the header's declared entry count.
func decodeBlock(buf []byte, wantType uint32) ([]byte, uint32, error) {
	if len(buf) < blockHeaderSize {
		return nil, 0, kverrors.New("lsm.block.decode", kverrors.Corruption)
	}
	h, err := decodeBlockHeader(buf[:blockHeaderSize])
	if err != nil {
		return nil, 0, err
	}
	if h.typ != wantType {
		return nil, 0, kverrors.New("lsm.block.decode", kverrors.Corruption)
	}
	compressed := buf[blockHeaderSize:]
	if uint32(len(compressed)) != h.compressedSize {
		return nil, 0, kverrors.New("lsm.block.decode", kverrors.Corruption)
	}
	zeroed := h
	zeroed.crc32 = 0
	if crc32.ChecksumIEEE(append(zeroed.encode(), compressed...)) != h.crc32 {
		return nil, 0, kverrors.New("lsm.block.decode", kverrors.Corruption)
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, 0, kverrors.Wrap("lsm.block.decode", kverrors.Corruption, err)
	}
	if uint32(len(payload)) != h.uncompressedSize {
		return nil, 0, kverrors.New("lsm.block.decode", kverrors.Corruption)
	}
	return payload, h.entryCount, nil
}
