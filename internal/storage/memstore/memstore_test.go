package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objfuse/ovfs/internal/storageapi"
)

func TestStat_NotFound(t *testing.T) {
	b := NewDefault()
	_, err := b.Stat(context.Background(), "/missing")
	assert.Equal(t, storageapi.KindNotFound, storageapi.KindOf(err))
}

func TestWriteThenStatThenReadRange(t *testing.T) {
	b := NewDefault()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, "/a", []byte("hello world")))

	info, err := b.Stat(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), info.Size)

	data, err := b.ReadRange(ctx, "/a", 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))
}

func TestWriterAppend(t *testing.T) {
	b := NewDefault()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, "/log", []byte("first,")))

	w, err := b.Writer(ctx, "/log", 6)
	require.NoError(t, err)
	_, err = w.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := b.ReadRange(ctx, "/log", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "first,second", string(data))
}

func TestWriterAppend_UnsupportedWhenCapabilityOff(t *testing.T) {
	b := New(storageapi.Capabilities{Write: true, Append: false})
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, "/a", []byte("x")))

	_, err := b.Writer(ctx, "/a", 1)
	assert.Equal(t, storageapi.KindUnsupported, storageapi.KindOf(err))
}

func TestList_DirectChildrenOnly(t *testing.T) {
	b := NewDefault()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, "/d/x", []byte("1")))
	require.NoError(t, b.Write(ctx, "/d/y", []byte("22")))
	require.NoError(t, b.Write(ctx, "/d/sub/z", []byte("333")))

	entries, err := b.List(ctx, "/d/")
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["x"])
	assert.True(t, names["y"])
	assert.True(t, names["sub"])
	assert.Len(t, entries, 3)
}

func TestCreateDirThenDelete(t *testing.T) {
	b := NewDefault()
	ctx := context.Background()
	require.NoError(t, b.CreateDir(ctx, "/newdir"))

	info, err := b.Stat(ctx, "/newdir/")
	require.NoError(t, err)
	assert.True(t, info.IsDir)

	require.NoError(t, b.Delete(ctx, "/newdir/"))
	_, err = b.Stat(ctx, "/newdir/")
	assert.Equal(t, storageapi.KindNotFound, storageapi.KindOf(err))
}

func TestReadRange_PastEndIsRangeNotSatisfied(t *testing.T) {
	b := NewDefault()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, "/a", []byte("abc")))

	_, err := b.ReadRange(ctx, "/a", 10, 5)
	assert.Equal(t, storageapi.KindRangeNotSatisfied, storageapi.KindOf(err))
}
