// Package transport implements the typed Reader/Writer facade of §4.C,
// sitting on top of internal/descriptor and internal/vbuffer.
package transport

import (
	"errors"
	"fmt"
	"io"

	"github.com/objfuse/ovfs/internal/descriptor"
	"github.com/objfuse/ovfs/internal/vbuffer"
)

// ErrDescriptorChainOverflow is returned by the constructors when the
// summed descriptor lengths would overflow.
var ErrDescriptorChainOverflow = errors.New("transport: descriptor chain length overflow")

// ErrFindMemoryRegion is returned by the constructors when a descriptor
// address lies outside every known guest memory region.
var ErrFindMemoryRegion = errors.New("transport: could not find memory region for descriptor address")

// MemoryResolver maps a guest address and length to the backing
// []byte slice of guest memory, or nil if the address is unmapped.
// Implemented by internal/vhostuser.MemoryTable.
type MemoryResolver interface {
	Resolve(guestAddr uint64, length uint32) ([]byte, *vbuffer.Bitmap, uint64, bool)
}

// Descriptor is one entry of a virtqueue descriptor chain.
type Descriptor struct {
	Addr  uint64
	Len   uint32
	Write bool // true if the device may write into this descriptor (guest-readable reply space)
}

// BuildSlices resolves a descriptor chain against mem, separating
// readable (guest-to-device) descriptors from writable (device-to-guest)
// ones, and returns the resolved slice lists.
func BuildSlices(mem MemoryResolver, chain []Descriptor) (readable, writable []vbuffer.Slice, err error) {
	var total uint64
	for _, d := range chain {
		if total > total+uint64(d.Len) {
			return nil, nil, ErrDescriptorChainOverflow
		}
		total += uint64(d.Len)

		data, dirty, regionOffset, ok := mem.Resolve(d.Addr, d.Len)
		if !ok {
			return nil, nil, fmt.Errorf("%w: addr=0x%x len=%d", ErrFindMemoryRegion, d.Addr, d.Len)
		}

		s := vbuffer.Slice{Bytes: data, Offset: regionOffset, Dirty: dirty}
		if d.Write {
			writable = append(writable, s)
		} else {
			readable = append(readable, s)
		}
	}
	return readable, writable, nil
}

// Reader is the byte-stream facing side of a descriptor chain's
// readable descriptors.
type Reader struct {
	chain *descriptor.Chain
}

// NewReader wraps the readable portion of a descriptor chain.
func NewReader(readable []vbuffer.Slice) *Reader {
	return &Reader{chain: descriptor.NewChain(readable)}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() uint64 { return r.chain.Remaining() }

// Read copies up to len(buf) bytes from the chain into buf, returning
// the number of bytes copied.
func (r *Reader) Read(buf []byte) (int, error) {
	n, err := r.chain.Consume(uint64(len(buf)), func(prefix []vbuffer.Slice) (uint64, error) {
		off := 0
		for _, s := range prefix {
			off += copy(buf[off:], s.Bytes)
		}
		return uint64(off), nil
	})
	return int(n), err
}

// ReadExact reads exactly len(buf) bytes, erroring with io.ErrUnexpectedEOF
// if fewer are available.
func (r *Reader) ReadExact(buf []byte) error {
	n, err := r.Read(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// ReadRecordInto decodes exactly len(buf) bytes using decode, which must
// consume the whole of buf. This stands in for the spec's
// read_record<T>: Go has no const-generic sizeof, so callers supply the
// record's wire size and a decode function (see internal/fuseproto).
func (r *Reader) ReadRecordInto(size int, decode func([]byte) error) error {
	buf := make([]byte, size)
	if err := r.ReadExact(buf); err != nil {
		return err
	}
	return decode(buf)
}

// ReadTo asks sink (a vbuffer.Buffer) to absorb exactly n bytes via the
// write-from-guest path.
func (r *Reader) ReadTo(sink *vbuffer.Buffer, n uint64) (int, error) {
	var written int
	_, err := r.chain.Consume(n, func(prefix []vbuffer.Slice) (uint64, error) {
		written = sink.WriteFromGuest(prefix)
		return uint64(written), nil
	})
	return written, err
}

// Writer is the byte-stream facing side of a descriptor chain's
// writable descriptors.
type Writer struct {
	chain *descriptor.Chain
}

// NewWriter wraps the writable portion of a descriptor chain.
func NewWriter(writable []vbuffer.Slice) *Writer {
	return &Writer{chain: descriptor.NewChain(writable)}
}

// BytesWritten reports the running total written so far.
func (w *Writer) BytesWritten() uint64 { return w.chain.Consumed() }

// Write copies buf into the chain's writable region, returning the
// number of bytes actually written (may be less than len(buf) if the
// chain is exhausted).
func (w *Writer) Write(buf []byte) (int, error) {
	staging := vbuffer.NewBuffer(buf)
	n, err := w.chain.Consume(uint64(len(buf)), func(prefix []vbuffer.Slice) (uint64, error) {
		return uint64(staging.ReadIntoGuest(prefix)), nil
	})
	return int(n), err
}

// SplitAt carves off a sub-writer starting n bytes from the current
// head, used to reserve space for a response header written last.
func (w *Writer) SplitAt(n uint64) (*Writer, error) {
	tail, err := w.chain.SplitAt(n)
	if err != nil {
		return nil, err
	}
	return &Writer{chain: tail}, nil
}

// WriteFrom asks source (a vbuffer.Buffer) to emit exactly n bytes via
// the read-into-guest path.
func (w *Writer) WriteFrom(source *vbuffer.Buffer, n uint64) (int, error) {
	var written int
	_, err := w.chain.Consume(n, func(prefix []vbuffer.Slice) (uint64, error) {
		written = source.ReadIntoGuest(prefix)
		return uint64(written), nil
	})
	return written, err
}
