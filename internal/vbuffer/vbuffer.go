// Package vbuffer implements the volatile-slice I/O primitive: a copy
// surface between a single owned byte buffer and a list of slices that
// alias guest memory shared over vhost-user.
//
// Guest memory is volatile: the driver on the other side of the shared
// mapping can rewrite it at any moment. Every write we perform into such
// memory must be reflected in a dirty-page bitmap so that a migration or
// logging consumer downstream knows which pages changed. Reads out of
// guest memory have no such obligation; we just copy.
package vbuffer

// PageSize is the dirty-bitmap granularity, matching vhost-user's
// log-shmfd page size.
const PageSize = 4096

// Bitmap is a page-granularity dirty bitmap covering a single guest
// memory region. Bit i corresponds to page i of the region.
type Bitmap struct {
	words []uint64
}

// NewBitmap allocates a bitmap large enough to cover regionLen bytes.
func NewBitmap(regionLen uint64) *Bitmap {
	pages := (regionLen + PageSize - 1) / PageSize
	words := (pages + 63) / 64
	return &Bitmap{words: make([]uint64, words)}
}

// Mark sets the dirty bit for every page touched by [offset, offset+n).
func (b *Bitmap) Mark(offset, n uint64) {
	if b == nil || n == 0 {
		return
	}
	first := offset / PageSize
	last := (offset + n - 1) / PageSize
	for page := first; page <= last; page++ {
		word := page / 64
		if int(word) >= len(b.words) {
			return
		}
		b.words[word] |= 1 << (page % 64)
	}
}

// IsDirty reports whether the page containing offset has been marked.
func (b *Bitmap) IsDirty(offset uint64) bool {
	if b == nil {
		return false
	}
	page := offset / PageSize
	word := page / 64
	if int(word) >= len(b.words) {
		return false
	}
	return b.words[word]&(1<<(page%64)) != 0
}

// Slice is a view into guest memory: a byte slice paired with the
// region offset it starts at (for dirty-bitmap marking) and that
// region's bitmap.
type Slice struct {
	Bytes  []byte
	Offset uint64
	Dirty  *Bitmap
}

func (s Slice) Len() int { return len(s.Bytes) }

// Buffer is the single owning byte region of §4.A. The zero value is an
// empty buffer.
type Buffer struct {
	buf []byte
}

// NewBuffer wraps an already-owned byte slice (e.g. bytes read from a
// storage backend) for staging into guest memory.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the number of bytes currently staged in the buffer.
func (b *Buffer) Len() int { return len(b.buf) }

// ReadIntoGuest sequentially fills slices from the buffer's front,
// stopping when the buffer is exhausted. Every byte written into a
// slice is marked dirty on that slice's bitmap. Returns the number of
// bytes written. Safe to call with an empty slice list.
func (b *Buffer) ReadIntoGuest(slices []Slice) int {
	remaining := b.buf
	written := 0
	for _, s := range slices {
		if len(remaining) == 0 {
			break
		}
		n := copy(s.Bytes, remaining)
		if n > 0 {
			s.Dirty.Mark(s.Offset, uint64(n))
		}
		remaining = remaining[n:]
		written += n
	}
	return written
}

// WriteFromGuest concatenates the contents of slices, in order, into a
// freshly allocated byte vector that replaces the buffer's contents.
// Returns the total length. Safe to call with an empty slice list.
func (b *Buffer) WriteFromGuest(slices []Slice) int {
	total := 0
	for _, s := range slices {
		total += len(s.Bytes)
	}
	out := make([]byte, 0, total)
	for _, s := range slices {
		out = append(out, s.Bytes...)
	}
	b.buf = out
	return total
}
