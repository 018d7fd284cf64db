package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	assert.True(t, Compare(Key("a"), Key("b")) < 0)
	assert.True(t, Compare(Key("b"), Key("a")) > 0)
	assert.Equal(t, 0, Compare(Key("a"), Key("a")))
}

func TestCloneIsIndependentCopy(t *testing.T) {
	k := Key("user:1001")
	clone := k.Clone()
	clone[0] = 'X'
	assert.Equal(t, Key("user:1001"), k)
	assert.NotEqual(t, k[0], clone[0])
}

func TestCloneNil(t *testing.T) {
	var k Key
	assert.Nil(t, k.Clone())
}

func TestEngineKindString(t *testing.T) {
	assert.Equal(t, "bplustree", EngineBPlusTree.String())
	assert.Equal(t, "unknown", EngineKind(99).String())
}
