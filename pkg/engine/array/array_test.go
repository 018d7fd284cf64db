package array

import (
	"testing"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCRUDRoundTrip walks a put/update/delete sequence and checks count
// and lookups after each step settle where they should.
func TestCRUDRoundTrip(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, e.Put(types.Key("user:1001"), types.Value("zhang")))
	require.NoError(t, e.Put(types.Key("user:1002"), types.Value("li")))
	require.NoError(t, e.Update(types.Key("user:1001"), types.Value("zhang-v2")))
	require.NoError(t, e.Delete(types.Key("user:1002")))

	assert.Equal(t, 1, e.Count())
	v, err := e.Get(types.Key("user:1001"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("zhang-v2"), v)

	_, err = e.Get(types.Key("user:1002"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
}

func TestDoubleDeleteReturnsNotFound(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, e.Put(types.Key("k"), types.Value("v")))
	require.NoError(t, e.Delete(types.Key("k")))
	err = e.Delete(types.Key("k"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
}

func TestEmptyKeyAndValueAreDistinguishable(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, e.Put(types.Key(""), types.Value("")))
	v, err := e.Get(types.Key(""))
	require.NoError(t, err)
	assert.Equal(t, types.Value(""), v)
	assert.NotNil(t, v)
}

func TestBatchPut(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	keys := []types.Key{types.Key("a"), types.Key("b"), types.Key("c")}
	values := []types.Value{types.Value("1"), types.Value("2"), types.Value("3")}
	require.NoError(t, e.BatchPut(keys, values))
	assert.Equal(t, 3, e.Count())
}

func TestUpdateOnMissingKeyReturnsNotFound(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	err = e.Update(types.Key("missing"), types.Value("v"))
	assert.True(t, kverrors.Is(err, kverrors.NotFound))
}

func TestCloseIsIdempotent(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}
