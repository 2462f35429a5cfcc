package vhostuser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeader_EncodeDecodeRoundTrips(t *testing.T) {
	h := Header{Request: ReqSetVringAddr, Flags: 1 << 3, Size: 40}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got := DecodeHeader(buf)
	assert.Equal(t, h, got)
	assert.True(t, got.NeedReply())
}

func TestHeader_NeedReplyFalseWithoutFlag(t *testing.T) {
	h := Header{Request: ReqSetFeatures, Flags: 0, Size: 8}
	assert.False(t, h.NeedReply())
}

func TestVhostVringState_DecodeMatchesFields(t *testing.T) {
	buf := make([]byte, vringStateSize)
	want := VhostVringState{Index: 1, Num: 256}
	putU32(buf[0:4], want.Index)
	putU32(buf[4:8], want.Num)

	assert.Equal(t, want, DecodeVringState(buf))
}

func TestVhostVringAddr_DecodeMatchesFields(t *testing.T) {
	buf := make([]byte, vringAddrSize)
	want := VhostVringAddr{
		Index: 0, Flags: 0,
		DescUserAddr:  0x1000,
		UsedUserAddr:  0x2000,
		AvailUserAddr: 0x3000,
		LogGuestAddr:  0,
	}
	putU32(buf[0:4], want.Index)
	putU32(buf[4:8], want.Flags)
	putU64(buf[8:16], want.DescUserAddr)
	putU64(buf[16:24], want.UsedUserAddr)
	putU64(buf[24:32], want.AvailUserAddr)
	putU64(buf[32:40], want.LogGuestAddr)

	assert.Equal(t, want, DecodeVringAddr(buf))
}

func TestU64Payload_EncodeDecodeRoundTrips(t *testing.T) {
	p := U64Payload{Num: OfferedFeatures}
	buf := make([]byte, u64PayloadSize)
	p.Encode(buf)
	assert.Equal(t, p, DecodeU64Payload(buf))
}

func TestDecodeMemTable_ParsesRegionsInOrder(t *testing.T) {
	regions := []rawMemoryRegion{
		{GuestPhysAddr: 0, MemorySize: 4096, UserAddr: 0x7f0000, MmapOffset: 0},
		{GuestPhysAddr: 4096, MemorySize: 8192, UserAddr: 0x7f1000, MmapOffset: 4096},
	}
	buf := make([]byte, 8+len(regions)*rawMemoryRegionSize)
	putU32(buf[0:4], uint32(len(regions)))
	off := 8
	for _, r := range regions {
		putU64(buf[off:off+8], r.GuestPhysAddr)
		putU64(buf[off+8:off+16], r.MemorySize)
		putU64(buf[off+16:off+24], r.UserAddr)
		putU64(buf[off+24:off+32], r.MmapOffset)
		off += rawMemoryRegionSize
	}

	got := decodeMemTable(buf)
	assert.Equal(t, regions, got)
}

func TestDecodeMemTable_TruncatedPayloadReturnsNil(t *testing.T) {
	assert.Nil(t, decodeMemTable([]byte{1, 2, 3}))
}

func TestRequest_StringNamesKnownRequests(t *testing.T) {
	assert.Equal(t, "SET_MEM_TABLE", ReqSetMemTable.String())
	assert.Equal(t, "UNKNOWN", Request(9999).String())
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
