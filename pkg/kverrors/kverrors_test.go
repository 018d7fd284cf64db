package kverrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap("wal.Append", IO, cause)

	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, IO, KindOf(err))
	assert.Contains(t, err.Error(), "wal.Append")
	assert.Contains(t, err.Error(), "disk full")
}

func TestIs(t *testing.T) {
	err := New("engine.Get", NotFound)
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Exists))
	assert.False(t, Is(errors.New("plain"), NotFound))
	assert.Equal(t, None, KindOf(nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "queue_full", QueueFull.String())
	assert.Equal(t, "unknown", Kind(999).String())
}
