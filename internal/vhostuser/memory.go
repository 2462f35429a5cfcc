package vhostuser

import (
	"fmt"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/objfuse/ovfs/internal/vbuffer"
)

// MemoryRegion is one mmap'd guest memory region, sorted by
// GuestPhysAddr so MemoryTable.Resolve can binary-search it.
type MemoryRegion struct {
	GuestPhysAddr uint64
	Size          uint64
	Data          []byte
	Dirty         *vbuffer.Bitmap
}

func (r *MemoryRegion) contains(guestAddr uint64) bool {
	return guestAddr >= r.GuestPhysAddr && guestAddr < r.GuestPhysAddr+r.Size
}

// MemoryTable is the guest memory region table of §4.H(ADDED),
// implementing transport.MemoryResolver. Regions are installed once
// per SET_MEM_TABLE handshake and never mutated afterward, so Resolve
// needs no locking.
type MemoryTable struct {
	regions []*MemoryRegion
}

// NewMemoryTable builds an empty table.
func NewMemoryTable() *MemoryTable { return &MemoryTable{} }

// AddRegion mmaps fd at mmapOffset for size bytes and registers it
// under guestPhysAddr, keeping regions sorted by address.
func (t *MemoryTable) AddRegion(fd int, guestPhysAddr, size, mmapOffset uint64) error {
	data, err := unix.Mmap(fd, int64(mmapOffset), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("vhostuser: mmap region at 0x%x: %w", guestPhysAddr, err)
	}

	region := &MemoryRegion{GuestPhysAddr: guestPhysAddr, Size: size, Data: data, Dirty: vbuffer.NewBitmap(size)}
	idx := sort.Search(len(t.regions), func(i int) bool { return t.regions[i].GuestPhysAddr >= guestPhysAddr })
	t.regions = append(t.regions, nil)
	copy(t.regions[idx+1:], t.regions[idx:])
	t.regions[idx] = region
	return nil
}

// Reset unmaps every region, used when the driver reconnects with a
// fresh SET_MEM_TABLE.
func (t *MemoryTable) Reset() {
	for _, r := range t.regions {
		_ = unix.Munmap(r.Data)
	}
	t.regions = nil
}

// Resolve implements transport.MemoryResolver: it finds the region
// containing guestAddr, and returns a sub-slice of length bytes (or
// less, if the region ends first) along with that region's dirty
// bitmap and the byte offset within the region the slice starts at.
func (t *MemoryTable) Resolve(guestAddr uint64, length uint32) ([]byte, *vbuffer.Bitmap, uint64, bool) {
	idx := sort.Search(len(t.regions), func(i int) bool {
		return guestAddr < t.regions[i].GuestPhysAddr+t.regions[i].Size
	})
	if idx == len(t.regions) || !t.regions[idx].contains(guestAddr) {
		return nil, nil, 0, false
	}

	r := t.regions[idx]
	off := guestAddr - r.GuestPhysAddr
	end := off + uint64(length)
	if end > r.Size {
		end = r.Size
	}
	return r.Data[off:end], r.Dirty, off, true
}
