package bloom

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

// blockBits is the size of one locality block: 512 bits (64 bytes), one
// typical cache line. Block variants route every key to exactly one block
// via its first hash, then probe only within that block, trading a small
// amount of false-positive rate for far fewer cache misses per operation,
// which pays off on large, hot SSTable filters.
const blockBits = 512
const blockWords = blockBits / 64

// BlockedFilter is a block-blocked bloom filter: an array of independent
// blockBits-sized sub-filters. Every key is hashed once to pick its block,
// then probed with k double-hashed positions confined to that block.
type BlockedFilter struct {
	blocks [][blockWords]uint64
	k      uint32
	hash   HashKind
}

// NewBlocked builds a BlockedFilter sized for cfg's expected load. The bit
// budget from optimalParams is rounded up to a whole number of blocks.
func NewBlocked(cfg Config) (*BlockedFilter, error) {
	if err := cfg.validate("bloom.create_blocked"); err != nil {
		return nil, err
	}
	m, k := optimalParams(cfg.ExpectedEntries, cfg.FPRate)
	numBlocks := (m + blockBits - 1) / blockBits
	if numBlocks == 0 {
		numBlocks = 1
	}
	return &BlockedFilter{
		blocks: make([][blockWords]uint64, numBlocks),
		k:      k,
		hash:   resolveAuto(cfg.Hash, cfg.ExpectedEntries),
	}, nil
}

func (f *BlockedFilter) blockFor(h1 uint64) uint64 {
	return h1 % uint64(len(f.blocks))
}

func (f *BlockedFilter) Add(key []byte) {
	h1, h2 := probeHashes(f.hash, key)
	blk := &f.blocks[f.blockFor(h1)]
	for i := uint32(0); i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % blockBits
		blk[pos/64] |= 1 << (pos % 64)
	}
}

func (f *BlockedFilter) MightContain(key []byte) bool {
	h1, h2 := probeHashes(f.hash, key)
	blk := &f.blocks[f.blockFor(h1)]
	for i := uint32(0); i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % blockBits
		if blk[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// BitCount returns the exact addressable bit count across all blocks.
func (f *BlockedFilter) BitCount() uint64 { return uint64(len(f.blocks)) * blockBits }

// Serialize mirrors Filter.Serialize's block-header convention.
func (f *BlockedFilter) Serialize() []byte {
	payload := make([]byte, 8+len(f.blocks)*blockWords*8)
	binary.LittleEndian.PutUint32(payload[0:4], f.k)
	binary.LittleEndian.PutUint32(payload[4:8], uint32(f.hash))
	off := 8
	for _, blk := range f.blocks {
		for _, w := range blk {
			binary.LittleEndian.PutUint64(payload[off:off+8], w)
			off += 8
		}
	}

	h := blockHeader{
		typ:              BlockTypeBloom,
		compressedSize:   uint32(len(payload)),
		uncompressedSize: uint32(len(payload)),
		entryCount:       uint32(len(f.blocks)),
		reserved:         uint32(f.BitCount()),
	}
	h.crc32 = crc32.ChecksumIEEE(append(h.encode(), payload...))

	out := make([]byte, 0, blockHeaderSize+len(payload))
	out = append(out, h.encode()...)
	out = append(out, payload...)
	return out
}

// LoadBlocked reconstructs a BlockedFilter from a block written by Serialize.
func LoadBlocked(data []byte) (*BlockedFilter, error) {
	if len(data) < blockHeaderSize {
		return nil, kverrors.New("bloom.load_blocked", kverrors.Corruption)
	}
	h, err := decodeBlockHeader(data[:blockHeaderSize])
	if err != nil {
		return nil, err
	}
	if h.typ != BlockTypeBloom {
		return nil, kverrors.New("bloom.load_blocked", kverrors.Corruption)
	}
	payload := data[blockHeaderSize:]
	if uint32(len(payload)) != h.uncompressedSize {
		return nil, kverrors.New("bloom.load_blocked", kverrors.Corruption)
	}
	zeroed := h
	zeroed.crc32 = 0
	if crc32.ChecksumIEEE(append(zeroed.encode(), payload...)) != h.crc32 {
		return nil, kverrors.New("bloom.load_blocked", kverrors.Corruption)
	}
	if len(payload) < 8 {
		return nil, kverrors.New("bloom.load_blocked", kverrors.Corruption)
	}
	k := binary.LittleEndian.Uint32(payload[0:4])
	hash := HashKind(binary.LittleEndian.Uint32(payload[4:8]))
	words := payload[8:]
	if len(words)%(blockWords*8) != 0 {
		return nil, kverrors.New("bloom.load_blocked", kverrors.Corruption)
	}
	numBlocks := len(words) / (blockWords * 8)
	blocks := make([][blockWords]uint64, numBlocks)
	off := 0
	for i := range blocks {
		for j := 0; j < blockWords; j++ {
			blocks[i][j] = binary.LittleEndian.Uint64(words[off : off+8])
			off += 8
		}
	}
	return &BlockedFilter{blocks: blocks, k: k, hash: hash}, nil
}

// registersPerBlock and registerBits define one register-blocked filter
// block: 8 registers of 32 bits (256 bits total), following the split-block design
// used by register-blocked bloom filters for SIMD-friendly probing — each
// of the k probes sets one bit in one register, so a full probe touches at
// most k distinct 32-bit words instead of k arbitrary bit positions.
const registersPerBlock = 8
const registerBits = 32

// RegisterBlockedFilter partitions its bit budget into blocks of 8 x 32-bit
// registers. Every key picks one block via h1, then for each of k probes
// picks a register within the block and a bit within that register from two
// more derived hashes — the layout SIMD bulk-probing implementations expect.
type RegisterBlockedFilter struct {
	blocks [][registersPerBlock]uint32
	k      uint32
	hash   HashKind
}

// NewRegisterBlocked builds a RegisterBlockedFilter sized for cfg.
func NewRegisterBlocked(cfg Config) (*RegisterBlockedFilter, error) {
	if err := cfg.validate("bloom.create_register_blocked"); err != nil {
		return nil, err
	}
	m, k := optimalParams(cfg.ExpectedEntries, cfg.FPRate)
	blockSpan := uint64(registersPerBlock * registerBits)
	numBlocks := (m + blockSpan - 1) / blockSpan
	if numBlocks == 0 {
		numBlocks = 1
	}
	if k > registersPerBlock {
		k = registersPerBlock // probe() holds at most registersPerBlock probes
	}
	return &RegisterBlockedFilter{
		blocks: make([][registersPerBlock]uint32, numBlocks),
		k:      k,
		hash:   resolveAuto(cfg.Hash, cfg.ExpectedEntries),
	}, nil
}

func (f *RegisterBlockedFilter) probe(key []byte) (blk uint64, regs [registersPerBlock]uint8, bits [registersPerBlock]uint8, h1 uint64) {
	h1, h2 := probeHashes(f.hash, key)
	blk = h1 % uint64(len(f.blocks))
	mix := h2
	for i := uint32(0); i < f.k; i++ {
		mix = mix*0x9e3779b97f4a7c15 + uint64(i)
		regs[i] = uint8((mix >> 32) % registersPerBlock)
		bits[i] = uint8(mix % registerBits)
	}
	return blk, regs, bits, h1
}

func (f *RegisterBlockedFilter) Add(key []byte) {
	blk, regs, bits, _ := f.probe(key)
	b := &f.blocks[blk]
	for i := uint32(0); i < f.k; i++ {
		b[regs[i]] |= 1 << bits[i]
	}
}

func (f *RegisterBlockedFilter) MightContain(key []byte) bool {
	blk, regs, bits, _ := f.probe(key)
	b := &f.blocks[blk]
	for i := uint32(0); i < f.k; i++ {
		if b[regs[i]]&(1<<bits[i]) == 0 {
			return false
		}
	}
	return true
}

// BitCount returns the exact addressable bit count across all blocks.
func (f *RegisterBlockedFilter) BitCount() uint64 {
	return uint64(len(f.blocks)) * registersPerBlock * registerBits
}
