package vbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadIntoGuest_EmptySliceList(t *testing.T) {
	b := NewBuffer([]byte("hello"))
	n := b.ReadIntoGuest(nil)
	assert.Equal(t, 0, n)
}

func TestWriteFromGuest_EmptySliceList(t *testing.T) {
	b := NewBuffer([]byte("stale"))
	n := b.WriteFromGuest(nil)
	assert.Equal(t, 0, n)
	assert.Empty(t, b.Bytes())
}

func TestReadIntoGuest_FillsMultipleSlicesAndMarksDirty(t *testing.T) {
	b := NewBuffer([]byte("hello world"))
	dirty := NewBitmap(3 * PageSize)

	s1 := make([]byte, 5)
	s2 := make([]byte, 6)
	n := b.ReadIntoGuest([]Slice{
		{Bytes: s1, Offset: 0, Dirty: dirty},
		{Bytes: s2, Offset: PageSize, Dirty: dirty},
	})

	require.Equal(t, 11, n)
	assert.Equal(t, "hello", string(s1))
	assert.Equal(t, " world", string(s2))
	assert.True(t, dirty.IsDirty(0))
	assert.True(t, dirty.IsDirty(PageSize))
	assert.False(t, dirty.IsDirty(2*PageSize))
}

func TestReadIntoGuest_StopsWhenBufferExhausted(t *testing.T) {
	b := NewBuffer([]byte("ab"))
	s1 := make([]byte, 5)
	s2 := make([]byte, 5)
	n := b.ReadIntoGuest([]Slice{{Bytes: s1}, {Bytes: s2}})

	assert.Equal(t, 2, n)
	assert.Equal(t, "ab\x00\x00\x00", string(s1))
	assert.Equal(t, "\x00\x00\x00\x00\x00", string(s2))
}

func TestWriteFromGuest_ConcatenatesInOrder(t *testing.T) {
	b := NewBuffer(nil)
	n := b.WriteFromGuest([]Slice{
		{Bytes: []byte("foo")},
		{Bytes: []byte("bar")},
		{Bytes: []byte("baz")},
	})

	assert.Equal(t, 9, n)
	assert.Equal(t, "foobarbaz", string(b.Bytes()))
}

func TestRoundTrip_GuestWriteThenGuestRead(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog")
	staging := NewBuffer(nil)

	// Simulate the guest handing us data split across descriptors.
	staging.WriteFromGuest([]Slice{
		{Bytes: original[:10]},
		{Bytes: original[10:]},
	})
	require.Equal(t, original, staging.Bytes())

	// Now read it back out into a different set of guest slices.
	out := make([]byte, len(original))
	n := staging.ReadIntoGuest([]Slice{{Bytes: out}})
	assert.Equal(t, len(original), n)
	assert.Equal(t, original, out)
}

func TestBitmap_MarkAcrossPageBoundary(t *testing.T) {
	bm := NewBitmap(4 * PageSize)
	bm.Mark(PageSize-1, 2)

	assert.True(t, bm.IsDirty(PageSize-1))
	assert.True(t, bm.IsDirty(PageSize))
	assert.False(t, bm.IsDirty(2*PageSize))
}

func TestBitmap_MarkOutOfRangeIsNoop(t *testing.T) {
	bm := NewBitmap(PageSize)
	assert.NotPanics(t, func() {
		bm.Mark(10*PageSize, 1)
	})
}

func TestBitmap_NilReceiverIsSafe(t *testing.T) {
	var bm *Bitmap
	assert.NotPanics(t, func() {
		bm.Mark(0, 1)
	})
	assert.False(t, bm.IsDirty(0))
}
