package bloom

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// HashKind selects the hash family backing a filter's probe positions:
// Murmur3-32/64, FNV-1a-32/64, or xx-32/64. Auto picks speed for large n
// and quality for small n.
type HashKind int

const (
	// Auto picks xxHash for large expected-entry counts (speed matters more
	// than the marginal quality difference at scale) and Murmur3 for small
	// counts (better bit dispersion at low n).
	Auto HashKind = iota
	Murmur3_32
	Murmur3_64
	FNV1a32
	FNV1a64
	XX32
	XX64
)

func (k HashKind) String() string {
	switch k {
	case Auto:
		return "auto"
	case Murmur3_32:
		return "murmur3_32"
	case Murmur3_64:
		return "murmur3_64"
	case FNV1a32:
		return "fnv1a_32"
	case FNV1a64:
		return "fnv1a_64"
	case XX32:
		return "xx32"
	case XX64:
		return "xx64"
	default:
		return "unknown"
	}
}

// autoDispersionThreshold is the expected-entry count above which Auto
// prefers xxHash's raw throughput over Murmur3's slightly better dispersion.
const autoDispersionThreshold = 100_000

func resolveAuto(kind HashKind, expectedEntries uint64) HashKind {
	if kind != Auto {
		return kind
	}
	if expectedEntries >= autoDispersionThreshold {
		return XX64
	}
	return Murmur3_64
}

// sum64 returns a 64-bit hash of key under the given kind. 32-bit kinds are
// widened by hashing twice (Murmur3 with a second seed, FNV-1a and xx over
// the key plus a 0xff suffix byte) and concatenating, so every
// kind can feed the same double-hashing probe derivation.
func sum64(kind HashKind, key []byte) uint64 {
	switch kind {
	case Murmur3_64:
		return murmur3.Sum64(key)
	case Murmur3_32:
		lo := murmur3.Sum32(key)
		hi := murmur3.Sum32WithSeed(key, 0x9e3779b9)
		return uint64(hi)<<32 | uint64(lo)
	case FNV1a64:
		h := fnv.New64a()
		h.Write(key)
		return h.Sum64()
	case FNV1a32:
		h := fnv.New32a()
		h.Write(key)
		lo := h.Sum32()
		h2 := fnv.New32a()
		h2.Write(append(key, 0xff))
		hi := h2.Sum32()
		return uint64(hi)<<32 | uint64(lo)
	case XX64:
		return xxhash.Sum64(key)
	case XX32:
		lo := xxhash.Sum64(key) & 0xffffffff
		hi := xxhash.Sum64(append(key, 0xff)) & 0xffffffff
		return hi<<32 | lo
	default:
		return xxhash.Sum64(key)
	}
}

// probeHashes derives two independent 64-bit hashes (h1, h2) used by the
// Kirsch-Mitzenmacher double-hashing scheme: the i-th of k probe positions is
// h1 + i*h2 (mod m).
func probeHashes(kind HashKind, key []byte) (uint64, uint64) {
	h1 := sum64(kind, key)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h1)
	h2 := sum64(kind, buf[:])
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}
