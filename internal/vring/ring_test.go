package vring

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/objfuse/ovfs/internal/transport"
	"github.com/objfuse/ovfs/internal/vhostuser"
)

// newTestMemory backs a vhostuser.MemoryTable with one anonymous
// memfd-backed region starting at guest address 0, so tests can lay
// out descriptor/avail/used rings with plain byte offsets.
func newTestMemory(t *testing.T, size uint64) *vhostuser.MemoryTable {
	t.Helper()
	fd, err := unix.MemfdCreate("vring-test", 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	require.NoError(t, unix.Ftruncate(fd, int64(size)))

	mem := vhostuser.NewMemoryTable()
	require.NoError(t, mem.AddRegion(fd, 0, size, 0))
	t.Cleanup(mem.Reset)
	return mem
}

func putU16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:off+2], v) }
func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:off+4], v) }
func putU64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:off+8], v) }

// ringLayout fixes the addresses of the three rings within the test
// region, with num descriptor slots and VIRTIO_RING_F_EVENT_IDX's
// trailing event fields present after each ring.
type ringLayout struct {
	descAddr, availAddr, usedAddr uint64
	num                           int
}

func newRingLayout(num int) ringLayout {
	descAddr := uint64(0)
	availAddr := descAddr + uint64(num*descSize)
	usedAddr := availAddr + uint64(4+num*2+2)
	return ringLayout{descAddr: descAddr, availAddr: availAddr, usedAddr: usedAddr, num: num}
}

func (l ringLayout) regionSize() uint64 {
	return l.usedAddr + uint64(4+l.num*8+2)
}

func (l ringLayout) writeDesc(mem *vhostuser.MemoryTable, slot int, addr uint64, length uint32, flags, next uint16) {
	data, _, _, _ := mem.Resolve(l.descAddr+uint64(slot)*descSize, descSize)
	putU64(data, 0, addr)
	putU32(data, 8, length)
	putU16(data, 12, flags)
	putU16(data, 14, next)
}

func (l ringLayout) writeAvail(mem *vhostuser.MemoryTable, idx uint16, entries []uint16) {
	data, _, _, _ := mem.Resolve(l.availAddr, uint32(4+l.num*2+2))
	putU16(data, 0, 0)
	for i, e := range entries {
		putU16(data, 4+i*2, e)
	}
	putU16(data, 2, idx)
}

func (l ringLayout) readUsed(mem *vhostuser.MemoryTable) (idx uint16, id uint32, usedLen uint32) {
	data, _, _, _ := mem.Resolve(l.usedAddr, uint32(4+l.num*8))
	idx = binary.LittleEndian.Uint16(data[2:4])
	id = binary.LittleEndian.Uint32(data[4:8])
	usedLen = binary.LittleEndian.Uint32(data[8:12])
	return
}

func (l ringLayout) addr() vhostuser.VhostVringAddr {
	return vhostuser.VhostVringAddr{DescUserAddr: l.descAddr, AvailUserAddr: l.availAddr, UsedUserAddr: l.usedAddr}
}

func TestWalkDescriptorChain_FollowsNextFlag(t *testing.T) {
	layout := newRingLayout(4)
	mem := newTestMemory(t, layout.regionSize()+64)

	// A 2-descriptor chain: a readable header, then a writable reply buffer.
	layout.writeDesc(mem, 0, 1000, 16, descFNext, 1)
	layout.writeDesc(mem, 1, 2000, 32, descFWrite, 0)

	vr := &Ring{mem: mem, cfg: vhostuser.VringConfig{Addr: layout.addr()}, num: uint16(layout.num)}
	chain, err := vr.walkDescriptorChain(0)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, transport.Descriptor{Addr: 1000, Len: 16, Write: false}, chain[0])
	require.Equal(t, transport.Descriptor{Addr: 2000, Len: 32, Write: true}, chain[1])
}

func TestRun_ProcessesOneChainPerAvailEntryAndSignalsCall(t *testing.T) {
	layout := newRingLayout(4)
	extra := uint64(256)
	mem := newTestMemory(t, layout.regionSize()+extra)

	// Descriptor 0 reads from region offset past the rings; descriptor 1
	// writes the echoed reply there too, offset by the request length.
	reqAddr := layout.regionSize()
	replyAddr := reqAddr + 16
	layout.writeDesc(mem, 0, reqAddr, 5, descFNext, 1)
	layout.writeDesc(mem, 1, replyAddr, 16, descFWrite, 0)
	layout.writeAvail(mem, 1, []uint16{0})

	reqData, _, _, ok := mem.Resolve(reqAddr, 5)
	require.True(t, ok)
	copy(reqData, []byte("hello"))

	kickR, kickW, err := unixPipeFDs()
	require.NoError(t, err)
	defer unix.Close(kickR)
	defer unix.Close(kickW)
	callR, callW, err := unixPipeFDs()
	require.NoError(t, err)
	defer unix.Close(callR)
	defer unix.Close(callW)

	cfg := vhostuser.VringConfig{Addr: layout.addr(), Num: layout.num, KickFD: kickR, CallFD: callW}

	handled := make(chan struct{}, 1)
	handler := func(r *transport.Reader, w *transport.Writer) (uint64, error) {
		buf := make([]byte, 5)
		require.NoError(t, r.ReadExact(buf))
		n, err := w.Write(buf)
		handled <- struct{}{}
		return uint64(n), err
	}

	vr := New(cfg, mem, handler)
	go func() { _ = vr.Run() }()

	var kick [8]byte
	binary.LittleEndian.PutUint64(kick[:], 1)
	_, err = unix.Write(kickW, kick[:])
	require.NoError(t, err)

	<-handled

	var callBuf [8]byte
	n, err := unix.Read(callR, callBuf[:])
	require.NoError(t, err)
	require.Equal(t, 8, n)

	replyData, _, _, ok := mem.Resolve(replyAddr, 5)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), replyData)

	_, usedID, usedLen := layout.readUsed(mem)
	require.Equal(t, uint32(0), usedID)
	require.Equal(t, uint32(5), usedLen)
}

func unixPipeFDs() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}
