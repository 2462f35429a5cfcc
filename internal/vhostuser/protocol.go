// Package vhostuser implements the vhost-user control-plane handshake
// of §4.H(ADDED): a Unix-domain socket speaking the vhost-user request
// protocol, feature negotiation, and the guest memory region table that
// internal/transport's Reader/Writer constructors resolve descriptor
// addresses against.
package vhostuser

import "encoding/binary"

// Request identifies a vhost-user control message, mirroring the
// subset of vhost_user.h this server answers.
type Request uint32

const (
	ReqGetFeatures         Request = 1
	ReqSetFeatures         Request = 2
	ReqSetOwner            Request = 3
	ReqSetMemTable         Request = 5
	ReqSetVringNum         Request = 8
	ReqSetVringAddr        Request = 9
	ReqSetVringBase        Request = 10
	ReqGetVringBase        Request = 11
	ReqSetVringKick        Request = 12
	ReqSetVringCall        Request = 13
	ReqSetVringErr         Request = 14
	ReqGetProtocolFeatures Request = 15
	ReqSetProtocolFeatures Request = 16
	ReqGetQueueNum         Request = 17
	ReqSetVringEnable      Request = 18
)

func (r Request) String() string {
	switch r {
	case ReqGetFeatures:
		return "GET_FEATURES"
	case ReqSetFeatures:
		return "SET_FEATURES"
	case ReqSetOwner:
		return "SET_OWNER"
	case ReqSetMemTable:
		return "SET_MEM_TABLE"
	case ReqSetVringNum:
		return "SET_VRING_NUM"
	case ReqSetVringAddr:
		return "SET_VRING_ADDR"
	case ReqSetVringBase:
		return "SET_VRING_BASE"
	case ReqGetVringBase:
		return "GET_VRING_BASE"
	case ReqSetVringKick:
		return "SET_VRING_KICK"
	case ReqSetVringCall:
		return "SET_VRING_CALL"
	case ReqSetVringErr:
		return "SET_VRING_ERR"
	case ReqGetProtocolFeatures:
		return "GET_PROTOCOL_FEATURES"
	case ReqSetProtocolFeatures:
		return "SET_PROTOCOL_FEATURES"
	case ReqGetQueueNum:
		return "GET_QUEUE_NUM"
	case ReqSetVringEnable:
		return "SET_VRING_ENABLE"
	default:
		return "UNKNOWN"
	}
}

// Feature bits this server advertises in GET_FEATURES, per spec.md §6.
const (
	FeatureVersion1        = 1 << 32
	FeatureRingIndirectDesc = 1 << 28
	FeatureRingEventIdx     = 1 << 29
	FeatureProtocolFeatures = 1 << 30
)

// OfferedFeatures is the fixed feature mask this server answers
// GET_FEATURES with.
const OfferedFeatures uint64 = FeatureVersion1 | FeatureRingIndirectDesc | FeatureRingEventIdx | FeatureProtocolFeatures

// Protocol feature bits (vhost-user, not virtio), per spec.md §6.
const (
	ProtoFeatureMQ                = 1 << 0
	ProtoFeatureBackendReq        = 1 << 5
	ProtoFeatureBackendSendFD     = 1 << 10
	ProtoFeatureReplyAck          = 1 << 3
	ProtoFeatureConfigureMemSlots = 1 << 15
)

// OfferedProtocolFeatures is the fixed protocol feature mask this
// server answers GET_PROTOCOL_FEATURES with.
const OfferedProtocolFeatures uint64 = ProtoFeatureMQ | ProtoFeatureBackendReq | ProtoFeatureBackendSendFD | ProtoFeatureReplyAck | ProtoFeatureConfigureMemSlots

// QueueSize is the nominal vring depth, per spec.md §6. The handshake
// does not enforce it: each vring uses the Num the driver sends in
// SET_VRING_NUM.
const QueueSize = 1024

// NumQueues is the fixed virtqueue count (request + high-priority),
// matching virtio-fs's convention of two queues.
const NumQueues = 2

// HeaderSize is the wire size of Header.
const HeaderSize = 12

// Header leads every vhost-user control message.
type Header struct {
	Request Request
	Flags   uint32
	Size    uint32
}

func DecodeHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		Request: Request(binary.LittleEndian.Uint32(b[0:4])),
		Flags:   binary.LittleEndian.Uint32(b[4:8]),
		Size:    binary.LittleEndian.Uint32(b[8:12]),
	}
}

func (h Header) Encode(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Request))
	binary.LittleEndian.PutUint32(b[4:8], h.Flags)
	binary.LittleEndian.PutUint32(b[8:12], h.Size)
}

// NeedReply reports whether the driver requested an explicit reply via
// the REPLY_ACK protocol feature (flags bit 3).
func (h Header) NeedReply() bool { return h.Flags&(1<<3) != 0 }

// VhostVringState is the payload of SET_VRING_NUM/BASE/ENABLE.
type VhostVringState struct {
	Index uint32
	Num   uint32
}

const vringStateSize = 8

func DecodeVringState(b []byte) VhostVringState {
	_ = b[vringStateSize-1]
	return VhostVringState{
		Index: binary.LittleEndian.Uint32(b[0:4]),
		Num:   binary.LittleEndian.Uint32(b[4:8]),
	}
}

// VhostVringAddr is the payload of SET_VRING_ADDR.
type VhostVringAddr struct {
	Index         uint32
	Flags         uint32
	DescUserAddr  uint64
	UsedUserAddr  uint64
	AvailUserAddr uint64
	LogGuestAddr  uint64
}

const vringAddrSize = 4 + 4 + 8 + 8 + 8 + 8

func DecodeVringAddr(b []byte) VhostVringAddr {
	_ = b[vringAddrSize-1]
	return VhostVringAddr{
		Index:         binary.LittleEndian.Uint32(b[0:4]),
		Flags:         binary.LittleEndian.Uint32(b[4:8]),
		DescUserAddr:  binary.LittleEndian.Uint64(b[8:16]),
		UsedUserAddr:  binary.LittleEndian.Uint64(b[16:24]),
		AvailUserAddr: binary.LittleEndian.Uint64(b[24:32]),
		LogGuestAddr:  binary.LittleEndian.Uint64(b[32:40]),
	}
}

// U64Payload carries a plain 64-bit value, used for SET_FEATURES,
// SET_PROTOCOL_FEATURES, and the index+fd-bearing vring fd messages
// (index travels in the low byte per vhost-user convention; the fd
// itself travels out-of-band via SCM_RIGHTS).
type U64Payload struct {
	Num uint64
}

const u64PayloadSize = 8

func DecodeU64Payload(b []byte) U64Payload {
	_ = b[u64PayloadSize-1]
	return U64Payload{Num: binary.LittleEndian.Uint64(b[0:8])}
}

func (p U64Payload) Encode(b []byte) {
	_ = b[u64PayloadSize-1]
	binary.LittleEndian.PutUint64(b[0:8], p.Num)
}

// memRegionBaselineCount mirrors VHOST_MEMORY_BASELINE_NREGIONS.
const memRegionBaselineCount = 8

// rawMemoryRegion is one entry of the SET_MEM_TABLE payload; its fd
// arrives out-of-band via SCM_RIGHTS, one per region in order.
type rawMemoryRegion struct {
	GuestPhysAddr uint64
	MemorySize    uint64
	UserAddr      uint64
	MmapOffset    uint64
}

const rawMemoryRegionSize = 32

func decodeRawMemoryRegion(b []byte) rawMemoryRegion {
	_ = b[rawMemoryRegionSize-1]
	return rawMemoryRegion{
		GuestPhysAddr: binary.LittleEndian.Uint64(b[0:8]),
		MemorySize:    binary.LittleEndian.Uint64(b[8:16]),
		UserAddr:      binary.LittleEndian.Uint64(b[16:24]),
		MmapOffset:    binary.LittleEndian.Uint64(b[24:32]),
	}
}

// decodeMemTable decodes a SET_MEM_TABLE payload (a uint32 region
// count, 4 bytes padding, then up to memRegionBaselineCount fixed-size
// region records).
func decodeMemTable(b []byte) []rawMemoryRegion {
	if len(b) < 8 {
		return nil
	}
	n := binary.LittleEndian.Uint32(b[0:4])
	regions := make([]rawMemoryRegion, 0, n)
	off := 8
	for i := uint32(0); i < n && off+rawMemoryRegionSize <= len(b); i++ {
		regions = append(regions, decodeRawMemoryRegion(b[off:off+rawMemoryRegionSize]))
		off += rawMemoryRegionSize
	}
	return regions
}
