// Package bloom implements the storage core's bloom-filter library: a
// parameter-optimal bit array with pluggable hash families, plus block- and
// register-block-blocked variants that trade memory locality for raw
// throughput on large SSTable filters.
package bloom

import (
	"math"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

// Config parameterizes a new Filter by expected load rather than raw bit
// count, so callers reason in terms of their workload, not the internals.
type Config struct {
	ExpectedEntries uint64
	FPRate          float64 // target false-positive probability, in (0, 1)
	Hash            HashKind
}

func (c Config) validate(op string) error {
	if c.ExpectedEntries == 0 {
		return kverrors.New(op, kverrors.InvalidArg)
	}
	if c.FPRate <= 0 || c.FPRate >= 1 {
		return kverrors.New(op, kverrors.InvalidArg)
	}
	return nil
}

// optimalParams computes m (bit count) and k (hash count) from n expected
// entries and target false-positive probability p:
// m = ceil(-n*ln(p) / (ln 2)^2), k = round((m/n) * ln 2).
func optimalParams(n uint64, p float64) (m uint64, k uint32) {
	ln2 := math.Ln2
	mf := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))
	if mf < 1 {
		mf = 1
	}
	m = uint64(mf)
	kf := math.Round((mf / float64(n)) * ln2)
	if kf < 1 {
		kf = 1
	}
	k = uint32(kf)
	return m, k
}

// Filter is a classic single-array bloom filter using Kirsch-Mitzenmacher
// double hashing to derive k probe positions from two base hashes.
type Filter struct {
	bits []uint64 // packed bit array, 64 bits per word
	m    uint64   // exact bit count — never inferred from len(bits)*64
	k    uint32
	hash HashKind
}

// New builds a Filter sized for cfg.ExpectedEntries at cfg.FPRate.
func New(cfg Config) (*Filter, error) {
	if err := cfg.validate("bloom.create"); err != nil {
		return nil, err
	}
	m, k := optimalParams(cfg.ExpectedEntries, cfg.FPRate)
	kind := resolveAuto(cfg.Hash, cfg.ExpectedEntries)
	return &Filter{
		bits: make([]uint64, (m+63)/64),
		m:    m,
		k:    k,
		hash: kind,
	}, nil
}

// BitCount returns the exact number of addressable bits, preserved verbatim
// across serialize/load.
func (f *Filter) BitCount() uint64 { return f.m }

// HashCount returns the number of hash probes per operation.
func (f *Filter) HashCount() uint32 { return f.k }

func (f *Filter) setBit(i uint64) {
	f.bits[i/64] |= 1 << (i % 64)
}

func (f *Filter) getBit(i uint64) bool {
	return f.bits[i/64]&(1<<(i%64)) != 0
}

// Add records key's membership.
func (f *Filter) Add(key []byte) {
	h1, h2 := probeHashes(f.hash, key)
	for i := uint32(0); i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % f.m
		f.setBit(pos)
	}
}

// MightContain reports whether key may have been added. False positives are
// possible; false negatives are not.
func (f *Filter) MightContain(key []byte) bool {
	h1, h2 := probeHashes(f.hash, key)
	for i := uint32(0); i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % f.m
		if !f.getBit(pos) {
			return false
		}
	}
	return true
}
