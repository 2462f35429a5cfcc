package vhostuser

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func memfdRegion(t *testing.T, size uint64) int {
	t.Helper()
	fd, err := unix.MemfdCreate(t.Name(), 0)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(fd, int64(size)))
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func TestMemoryTable_ResolveFindsContainingRegion(t *testing.T) {
	table := NewMemoryTable()
	t.Cleanup(table.Reset)

	fdA := memfdRegion(t, 4096)
	fdB := memfdRegion(t, 4096)
	require.NoError(t, table.AddRegion(fdA, 0x1000, 4096, 0))
	require.NoError(t, table.AddRegion(fdB, 0x10000, 4096, 0))

	data, bitmap, off, ok := table.Resolve(0x10010, 16)
	require.True(t, ok)
	require.NotNil(t, bitmap)
	require.Equal(t, uint64(0x10), off)
	require.Len(t, data, 16)
}

func TestMemoryTable_ResolveOutsideAnyRegionFails(t *testing.T) {
	table := NewMemoryTable()
	t.Cleanup(table.Reset)

	fd := memfdRegion(t, 4096)
	require.NoError(t, table.AddRegion(fd, 0x1000, 4096, 0))

	_, _, _, ok := table.Resolve(0x5000, 16)
	require.False(t, ok)
}

func TestMemoryTable_ResolveClampsLengthToRegionEnd(t *testing.T) {
	table := NewMemoryTable()
	t.Cleanup(table.Reset)

	fd := memfdRegion(t, 4096)
	require.NoError(t, table.AddRegion(fd, 0, 4096, 0))

	data, _, off, ok := table.Resolve(4090, 100)
	require.True(t, ok)
	require.Equal(t, uint64(4090), off)
	require.Len(t, data, 6)
}

func TestMemoryTable_WritesAreVisibleThroughResolvedSlice(t *testing.T) {
	table := NewMemoryTable()
	t.Cleanup(table.Reset)

	fd := memfdRegion(t, 4096)
	require.NoError(t, table.AddRegion(fd, 0, 4096, 0))

	data, _, _, ok := table.Resolve(0, 4)
	require.True(t, ok)
	copy(data, []byte{1, 2, 3, 4})

	again, _, _, ok := table.Resolve(0, 4)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4}, again)
}
