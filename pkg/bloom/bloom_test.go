package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidArgs(t *testing.T) {
	_, err := New(Config{ExpectedEntries: 0, FPRate: 0.01})
	require.Error(t, err)
	_, err = New(Config{ExpectedEntries: 100, FPRate: 0})
	require.Error(t, err)
	_, err = New(Config{ExpectedEntries: 100, FPRate: 1})
	require.Error(t, err)
}

func TestFilterNoFalseNegatives(t *testing.T) {
	f, err := New(Config{ExpectedEntries: 1000, FPRate: 0.01, Hash: Murmur3_64})
	require.NoError(t, err)

	keys := make([][]byte, 1000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%d", i))
		f.Add(keys[i])
	}
	for _, k := range keys {
		assert.True(t, f.MightContain(k))
	}
}

func TestFilterRoundTripPreservesAnswers(t *testing.T) {
	f, err := New(Config{ExpectedEntries: 500, FPRate: 0.02, Hash: XX64})
	require.NoError(t, err)

	var present [][]byte
	var absent [][]byte
	for i := 0; i < 500; i++ {
		present = append(present, []byte(fmt.Sprintf("present-%d", i)))
	}
	for i := 0; i < 500; i++ {
		absent = append(absent, []byte(fmt.Sprintf("absent-%d", i)))
	}
	for _, k := range present {
		f.Add(k)
	}

	blob := f.Serialize()
	loaded, err := Load(blob)
	require.NoError(t, err)
	assert.Equal(t, f.BitCount(), loaded.BitCount())

	for _, k := range present {
		assert.Equal(t, f.MightContain(k), loaded.MightContain(k))
	}
	for _, k := range absent {
		assert.Equal(t, f.MightContain(k), loaded.MightContain(k))
	}
}

func TestLoadRejectsCorruptedBlock(t *testing.T) {
	f, err := New(Config{ExpectedEntries: 10, FPRate: 0.05})
	require.NoError(t, err)
	f.Add([]byte("a"))
	blob := f.Serialize()
	blob[len(blob)-1] ^= 0xff // flip a payload bit without updating CRC

	_, err = Load(blob)
	require.Error(t, err)
}

func TestBlockedFilterRoundTrip(t *testing.T) {
	f, err := NewBlocked(Config{ExpectedEntries: 2000, FPRate: 0.01})
	require.NoError(t, err)
	var keys [][]byte
	for i := 0; i < 2000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("blocked-%d", i)))
		f.Add(keys[i])
	}
	for _, k := range keys {
		assert.True(t, f.MightContain(k))
	}

	blob := f.Serialize()
	loaded, err := LoadBlocked(blob)
	require.NoError(t, err)
	assert.Equal(t, f.BitCount(), loaded.BitCount())
	for _, k := range keys {
		assert.True(t, loaded.MightContain(k))
	}
}

func TestRegisterBlockedFilterNoFalseNegatives(t *testing.T) {
	f, err := NewRegisterBlocked(Config{ExpectedEntries: 1000, FPRate: 0.01})
	require.NoError(t, err)
	var keys [][]byte
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("rb-%d", i)))
		f.Add(keys[i])
	}
	for _, k := range keys {
		assert.True(t, f.MightContain(k))
	}
}

func TestOptimalParams(t *testing.T) {
	m, k := optimalParams(1000, 0.01)
	assert.Greater(t, m, uint64(0))
	assert.Greater(t, k, uint32(0))
}
