package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objfuse/ovfs/internal/vbuffer"
)

type fakeMemory struct {
	regions map[uint64][]byte
	dirty   map[uint64]*vbuffer.Bitmap
}

func (f *fakeMemory) Resolve(addr uint64, length uint32) ([]byte, *vbuffer.Bitmap, uint64, bool) {
	for base, buf := range f.regions {
		if addr >= base && addr+uint64(length) <= base+uint64(len(buf)) {
			off := addr - base
			return buf[off : off+uint64(length)], f.dirty[base], off, true
		}
	}
	return nil, nil, 0, false
}

func TestBuildSlices_SeparatesReadableAndWritable(t *testing.T) {
	mem := &fakeMemory{
		regions: map[uint64][]byte{0x1000: make([]byte, 64)},
		dirty:   map[uint64]*vbuffer.Bitmap{0x1000: vbuffer.NewBitmap(64)},
	}
	chain := []Descriptor{
		{Addr: 0x1000, Len: 8, Write: false},
		{Addr: 0x1008, Len: 16, Write: true},
	}

	readable, writable, err := BuildSlices(mem, chain)
	require.NoError(t, err)
	assert.Len(t, readable, 1)
	assert.Len(t, writable, 1)
	assert.Equal(t, 8, readable[0].Len())
	assert.Equal(t, 16, writable[0].Len())
}

func TestBuildSlices_UnknownAddressErrors(t *testing.T) {
	mem := &fakeMemory{regions: map[uint64][]byte{}}
	_, _, err := BuildSlices(mem, []Descriptor{{Addr: 0xdead, Len: 4}})
	assert.ErrorIs(t, err, ErrFindMemoryRegion)
}

func TestReader_ReadExactAcrossSlices(t *testing.T) {
	slices := []vbuffer.Slice{
		{Bytes: []byte("hel")},
		{Bytes: []byte("lo")},
	}
	r := NewReader(slices)
	buf := make([]byte, 5)
	require.NoError(t, r.ReadExact(buf))
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, uint64(0), r.Remaining())
}

func TestReader_ReadExact_ShortErrors(t *testing.T) {
	r := NewReader([]vbuffer.Slice{{Bytes: []byte("ab")}})
	buf := make([]byte, 5)
	assert.Error(t, r.ReadExact(buf))
}

func TestWriter_WriteAcrossSlices(t *testing.T) {
	a := make([]byte, 3)
	b := make([]byte, 3)
	w := NewWriter([]vbuffer.Slice{{Bytes: a}, {Bytes: b}})

	n, err := w.Write([]byte("hello!"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "hel", string(a))
	assert.Equal(t, "lo!", string(b))
	assert.Equal(t, uint64(6), w.BytesWritten())
}

func TestWriter_SplitAt_ReservesHeaderSpace(t *testing.T) {
	buf := make([]byte, 11)
	w := NewWriter([]vbuffer.Slice{{Bytes: buf}})

	body, err := w.SplitAt(4)
	require.NoError(t, err)

	_, err = body.Write([]byte("payload"))
	require.NoError(t, err)
	_, err = w.Write([]byte("HEAD"))
	require.NoError(t, err)

	assert.Equal(t, "HEADpayload", string(buf[:11]))
}

func TestReadWrite_RoundTripThroughVbuffer(t *testing.T) {
	src := vbuffer.NewBuffer([]byte("round-trip-data"))
	guestBuf := make([]byte, 64)
	w := NewWriter([]vbuffer.Slice{{Bytes: guestBuf}})

	n, err := w.WriteFrom(src, uint64(src.Len()))
	require.NoError(t, err)
	assert.Equal(t, src.Len(), n)

	sink := vbuffer.NewBuffer(nil)
	r := NewReader([]vbuffer.Slice{{Bytes: guestBuf[:n]}})
	_, err = r.ReadTo(sink, uint64(n))
	require.NoError(t, err)
	assert.Equal(t, "round-trip-data", string(sink.Bytes()))
}
