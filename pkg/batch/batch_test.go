package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine/array"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

func newManager(t *testing.T, maxBatchSize int) (*Manager, *array.Array) {
	t.Helper()
	eng, err := array.New(array.Config{})
	require.NoError(t, err)
	mgr, err := NewManager(eng, Config{MaxBatchSize: maxBatchSize})
	require.NoError(t, err)
	return mgr, eng
}

func TestBatchPutSubmitWait(t *testing.T) {
	mgr, eng := newManager(t, 10)
	ctx := mgr.Create()

	var retired int
	require.NoError(t, ctx.Put(types.Key("a"), types.Value("1"), func(Op) { retired++ }))
	require.NoError(t, ctx.Put(types.Key("b"), types.Value("2"), func(Op) { retired++ }))

	var completed bool
	require.NoError(t, ctx.Submit(func(*Context) { completed = true }))
	require.NoError(t, ctx.Wait(time.Second))

	assert.Equal(t, Completed, ctx.Status())
	assert.True(t, completed)
	assert.Equal(t, 2, retired)

	v, err := eng.Get(types.Key("a"))
	require.NoError(t, err)
	assert.Equal(t, types.Value("1"), v)
}

func TestBatchExceedingMaxSizeReturnsBatchFull(t *testing.T) {
	mgr, _ := newManager(t, 1)
	ctx := mgr.Create()
	require.NoError(t, ctx.Put(types.Key("a"), types.Value("1"), nil))
	err := ctx.Put(types.Key("b"), types.Value("2"), nil)
	assert.True(t, kverrors.Is(err, kverrors.BatchFull))
}

func TestBatchSubmitAfterSubmitReturnsInvalidState(t *testing.T) {
	mgr, _ := newManager(t, 10)
	ctx := mgr.Create()
	require.NoError(t, ctx.Submit(nil))
	require.NoError(t, ctx.Wait(time.Second))
	assert.True(t, kverrors.Is(ctx.Submit(nil), kverrors.InvalidState))
}

func TestBatchCancelFromPending(t *testing.T) {
	mgr, _ := newManager(t, 10)
	ctx := mgr.Create()
	require.NoError(t, ctx.Cancel())
	assert.Equal(t, Cancelled, ctx.Status())
	assert.True(t, kverrors.Is(ctx.Submit(nil), kverrors.InvalidState))
}

func TestBatchGetRetrievesValue(t *testing.T) {
	mgr, eng := newManager(t, 10)
	require.NoError(t, eng.Put(types.Key("k"), types.Value("v")))

	ctx := mgr.Create()
	var got types.Value
	require.NoError(t, ctx.Get(types.Key("k"), func(op Op) { got = op.Value }))
	require.NoError(t, ctx.Submit(nil))
	require.NoError(t, ctx.Wait(time.Second))
	assert.Equal(t, types.Value("v"), got)
}

func TestBatchWaitTimesOutOnNeverSubmitted(t *testing.T) {
	mgr, _ := newManager(t, 10)
	ctx := mgr.Create()
	err := ctx.Wait(10 * time.Millisecond)
	assert.True(t, kverrors.Is(err, kverrors.Timeout))
}
