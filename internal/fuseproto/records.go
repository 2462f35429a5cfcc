// Package fuseproto defines the fixed-layout, little-endian FUSE 7.38
// wire records and opcode enum this server speaks, and their
// encode/decode to and from byte slices.
//
// Every struct here is packed with no padding, matching the kernel ABI
// exactly; field order must not change. Sizes are asserted by tests.
package fuseproto

import "encoding/binary"

// Opcode identifies the kind of request in an InHeader.
type Opcode uint32

const (
	OpLookup      Opcode = 1
	OpForget      Opcode = 2
	OpGetattr     Opcode = 3
	OpSetattr     Opcode = 4
	OpMkdir       Opcode = 9
	OpUnlink      Opcode = 10
	OpRmdir       Opcode = 11
	OpOpen        Opcode = 14
	OpRead        Opcode = 15
	OpWrite       Opcode = 16
	OpRelease     Opcode = 18
	OpFlush       Opcode = 25
	OpInit        Opcode = 26
	OpOpendir     Opcode = 27
	OpReaddir     Opcode = 28
	OpReleasedir  Opcode = 29
	OpFsyncdir    Opcode = 30
	OpAccess      Opcode = 34
	OpCreate      Opcode = 35
	OpDestroy     Opcode = 38
)

var opcodeNames = map[Opcode]string{
	OpLookup:     "Lookup",
	OpForget:     "Forget",
	OpGetattr:    "Getattr",
	OpSetattr:    "Setattr",
	OpMkdir:      "Mkdir",
	OpUnlink:     "Unlink",
	OpRmdir:      "Rmdir",
	OpOpen:       "Open",
	OpRead:       "Read",
	OpWrite:      "Write",
	OpRelease:    "Release",
	OpFlush:      "Flush",
	OpInit:       "Init",
	OpOpendir:    "Opendir",
	OpReaddir:    "Readdir",
	OpReleasedir: "Releasedir",
	OpFsyncdir:   "Fsyncdir",
	OpAccess:     "Access",
	OpCreate:     "Create",
	OpDestroy:    "Destroy",
}

// String names the opcode the way it appears in metrics and logs; an
// opcode this server doesn't implement prints as "Unknown(<n>)".
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "Unknown(" + uitoa(uint32(o)) + ")"
}

func uitoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// ProtocolVersionMajor/Minor are the FUSE ABI this server speaks and the
// minimum it accepts, per spec.md §6.
const (
	ProtocolVersionMajor = 7
	ProtocolVersionMinor = 38
	MinSupportedMinor    = 27
)

// MaxWriteSize is advertised to the guest in InitOut.
const MaxWriteSize = 1 << 20 // 1 MiB

// MaxMessageLen is the largest InHeader.Len this server accepts
// (payload cap plus header headroom), per spec.md §6.
const MaxMessageLen = MaxWriteSize + 4096

// File type bits used in Attr.Mode and DirEntryOut.Type, and default
// ownership/permission values synthesized for every inode (spec.md §6).
const (
	sIFDIR = 0o040000
	sIFREG = 0o100000

	DefaultUid      = 1000
	DefaultGid      = 1000
	DefaultDirMode  = sIFDIR | 0o755
	DefaultFileMode = sIFREG | 0o755
	DefaultDirNlink = 2
	DefaultFileNlink = 1

	DirentTypeDir = 4
	DirentTypeReg = 8
)

const (
	InHeaderSize    = 40
	OutHeaderSize   = 16
	AttrSize        = 88
	EntryOutSize    = 16 + 24 + AttrSize
	AttrOutSize     = 16 + AttrSize
	InitInSize      = 16
	InitOutSize     = 16 + 2 + 2 + 4 + 4 + 2 + 2 + 4 + 7*4
	CreateInSize    = 16
	MkdirInSize     = 8
	OpenInSize      = 8
	OpenOutSize     = 16
	ReadWriteInSize = 8 + 8 + 4 + 4 + 8 + 4 + 4
	WriteOutSize    = 8
	DirEntryOutSize = 8 + 8 + 4 + 4
)

// InHeader is the leading header on every inbound request.
type InHeader struct {
	Len          uint32
	Opcode       uint32
	Unique       uint64
	NodeID       uint64
	UID          uint32
	GID          uint32
	PID          uint32
	TotalExtlen  uint16
	Padding      uint16
}

func DecodeInHeader(b []byte) InHeader {
	_ = b[InHeaderSize-1]
	return InHeader{
		Len:         binary.LittleEndian.Uint32(b[0:4]),
		Opcode:      binary.LittleEndian.Uint32(b[4:8]),
		Unique:      binary.LittleEndian.Uint64(b[8:16]),
		NodeID:      binary.LittleEndian.Uint64(b[16:24]),
		UID:         binary.LittleEndian.Uint32(b[24:28]),
		GID:         binary.LittleEndian.Uint32(b[28:32]),
		PID:         binary.LittleEndian.Uint32(b[32:36]),
		TotalExtlen: binary.LittleEndian.Uint16(b[36:38]),
		Padding:     binary.LittleEndian.Uint16(b[38:40]),
	}
}

// OutHeader leads every reply; Error is a negated errno on failure, 0
// on success, and Len covers header plus body.
type OutHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

func (h OutHeader) Encode(b []byte) {
	_ = b[OutHeaderSize-1]
	binary.LittleEndian.PutUint32(b[0:4], h.Len)
	binary.LittleEndian.PutUint32(b[4:8], uint32(h.Error))
	binary.LittleEndian.PutUint64(b[8:16], h.Unique)
}

// Attr mirrors the FUSE attribute layout.
type Attr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Nlink     uint32
	UID       uint32
	GID       uint32
	Rdev      uint32
	Blksize   uint32
	Flags     uint32
}

func (a Attr) Encode(b []byte) {
	_ = b[AttrSize-1]
	binary.LittleEndian.PutUint64(b[0:8], a.Ino)
	binary.LittleEndian.PutUint64(b[8:16], a.Size)
	binary.LittleEndian.PutUint64(b[16:24], a.Blocks)
	binary.LittleEndian.PutUint64(b[24:32], a.Atime)
	binary.LittleEndian.PutUint64(b[32:40], a.Mtime)
	binary.LittleEndian.PutUint64(b[40:48], a.Ctime)
	binary.LittleEndian.PutUint32(b[48:52], a.AtimeNsec)
	binary.LittleEndian.PutUint32(b[52:56], a.MtimeNsec)
	binary.LittleEndian.PutUint32(b[56:60], a.CtimeNsec)
	binary.LittleEndian.PutUint32(b[60:64], a.Mode)
	binary.LittleEndian.PutUint32(b[64:68], a.Nlink)
	binary.LittleEndian.PutUint32(b[68:72], a.UID)
	binary.LittleEndian.PutUint32(b[72:76], a.GID)
	binary.LittleEndian.PutUint32(b[76:80], a.Rdev)
	binary.LittleEndian.PutUint32(b[80:84], a.Blksize)
	binary.LittleEndian.PutUint32(b[84:88], a.Flags)
}

// EntryOut is the reply body for Lookup/Mkdir/Create.
type EntryOut struct {
	NodeID         uint64
	Generation     uint64
	EntryValid     uint64
	AttrValid      uint64
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           Attr
}

func (e EntryOut) Encode(b []byte) {
	_ = b[EntryOutSize-1]
	binary.LittleEndian.PutUint64(b[0:8], e.NodeID)
	binary.LittleEndian.PutUint64(b[8:16], e.Generation)
	binary.LittleEndian.PutUint64(b[16:24], e.EntryValid)
	binary.LittleEndian.PutUint64(b[24:32], e.AttrValid)
	binary.LittleEndian.PutUint32(b[32:36], e.EntryValidNsec)
	binary.LittleEndian.PutUint32(b[36:40], e.AttrValidNsec)
	e.Attr.Encode(b[40:40+AttrSize])
}

// AttrOut is the reply body for Getattr/Setattr.
type AttrOut struct {
	AttrValid     uint64
	AttrValidNsec uint32
	Dummy         uint32
	Attr          Attr
}

func (a AttrOut) Encode(b []byte) {
	_ = b[AttrOutSize-1]
	binary.LittleEndian.PutUint64(b[0:8], a.AttrValid)
	binary.LittleEndian.PutUint32(b[8:12], a.AttrValidNsec)
	binary.LittleEndian.PutUint32(b[12:16], a.Dummy)
	a.Attr.Encode(b[16 : 16+AttrSize])
}

// InitIn is the handshake request body.
type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        uint32
}

func DecodeInitIn(b []byte) InitIn {
	_ = b[InitInSize-1]
	return InitIn{
		Major:        binary.LittleEndian.Uint32(b[0:4]),
		Minor:        binary.LittleEndian.Uint32(b[4:8]),
		MaxReadahead: binary.LittleEndian.Uint32(b[8:12]),
		Flags:        binary.LittleEndian.Uint32(b[12:16]),
	}
}

// InitOut is the handshake reply body.
type InitOut struct {
	Major               uint32
	Minor               uint32
	MaxReadahead        uint32
	Flags               uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32
	MaxPages            uint16
	MapAlignment        uint16
	Flags2              uint32
}

func (o InitOut) Encode(b []byte) {
	_ = b[InitOutSize-1]
	binary.LittleEndian.PutUint32(b[0:4], o.Major)
	binary.LittleEndian.PutUint32(b[4:8], o.Minor)
	binary.LittleEndian.PutUint32(b[8:12], o.MaxReadahead)
	binary.LittleEndian.PutUint32(b[12:16], o.Flags)
	binary.LittleEndian.PutUint16(b[16:18], o.MaxBackground)
	binary.LittleEndian.PutUint16(b[18:20], o.CongestionThreshold)
	binary.LittleEndian.PutUint32(b[20:24], o.MaxWrite)
	binary.LittleEndian.PutUint32(b[24:28], o.TimeGran)
	binary.LittleEndian.PutUint16(b[28:30], o.MaxPages)
	binary.LittleEndian.PutUint16(b[30:32], o.MapAlignment)
	binary.LittleEndian.PutUint32(b[32:36], o.Flags2)
	for i := 36; i < InitOutSize; i += 4 {
		binary.LittleEndian.PutUint32(b[i:i+4], 0)
	}
}

// CreateIn is the Create request's fixed record (name follows).
type CreateIn struct {
	Flags      uint32
	Mode       uint32
	Umask      uint32
	OpenFlags  uint32
}

func DecodeCreateIn(b []byte) CreateIn {
	_ = b[CreateInSize-1]
	return CreateIn{
		Flags:     binary.LittleEndian.Uint32(b[0:4]),
		Mode:      binary.LittleEndian.Uint32(b[4:8]),
		Umask:     binary.LittleEndian.Uint32(b[8:12]),
		OpenFlags: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// MkdirIn is the Mkdir request's fixed record (name follows).
type MkdirIn struct {
	Mode  uint32
	Umask uint32
}

func DecodeMkdirIn(b []byte) MkdirIn {
	_ = b[MkdirInSize-1]
	return MkdirIn{
		Mode:  binary.LittleEndian.Uint32(b[0:4]),
		Umask: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// OpenIn is the Open/Opendir request's fixed record.
type OpenIn struct {
	Flags     uint32
	OpenFlags uint32
}

func DecodeOpenIn(b []byte) OpenIn {
	_ = b[OpenInSize-1]
	return OpenIn{
		Flags:     binary.LittleEndian.Uint32(b[0:4]),
		OpenFlags: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// OpenOut is the Open/Opendir/Create reply's fixed record.
type OpenOut struct {
	Fh        uint64
	OpenFlags uint32
	Padding   uint32
}

func (o OpenOut) Encode(b []byte) {
	_ = b[OpenOutSize-1]
	binary.LittleEndian.PutUint64(b[0:8], o.Fh)
	binary.LittleEndian.PutUint32(b[8:12], o.OpenFlags)
	binary.LittleEndian.PutUint32(b[12:16], o.Padding)
}

// ReadIn/WriteIn share a layout.
type ReadIn struct {
	Fh        uint64
	Offset    uint64
	Size      uint32
	ReadFlags uint32
	LockOwner uint64
	Flags     uint32
	Padding   uint32
}

func DecodeReadIn(b []byte) ReadIn {
	_ = b[ReadWriteInSize-1]
	return ReadIn{
		Fh:        binary.LittleEndian.Uint64(b[0:8]),
		Offset:    binary.LittleEndian.Uint64(b[8:16]),
		Size:      binary.LittleEndian.Uint32(b[16:20]),
		ReadFlags: binary.LittleEndian.Uint32(b[20:24]),
		LockOwner: binary.LittleEndian.Uint64(b[24:32]),
		Flags:     binary.LittleEndian.Uint32(b[32:36]),
		Padding:   binary.LittleEndian.Uint32(b[36:40]),
	}
}

type WriteIn struct {
	Fh         uint64
	Offset     uint64
	Size       uint32
	WriteFlags uint32
	LockOwner  uint64
	Flags      uint32
	Padding    uint32
}

func DecodeWriteIn(b []byte) WriteIn {
	_ = b[ReadWriteInSize-1]
	return WriteIn{
		Fh:         binary.LittleEndian.Uint64(b[0:8]),
		Offset:     binary.LittleEndian.Uint64(b[8:16]),
		Size:       binary.LittleEndian.Uint32(b[16:20]),
		WriteFlags: binary.LittleEndian.Uint32(b[20:24]),
		LockOwner:  binary.LittleEndian.Uint64(b[24:32]),
		Flags:      binary.LittleEndian.Uint32(b[32:36]),
		Padding:    binary.LittleEndian.Uint32(b[36:40]),
	}
}

type WriteOut struct {
	Size    uint32
	Padding uint32
}

func (o WriteOut) Encode(b []byte) {
	_ = b[WriteOutSize-1]
	binary.LittleEndian.PutUint32(b[0:4], o.Size)
	binary.LittleEndian.PutUint32(b[4:8], o.Padding)
}

// DirEntryOut precedes each directory entry's name in a Readdir reply.
type DirEntryOut struct {
	Ino     uint64
	Off     uint64
	Namelen uint32
	Type    uint32
}

func (d DirEntryOut) Encode(b []byte) {
	_ = b[DirEntryOutSize-1]
	binary.LittleEndian.PutUint64(b[0:8], d.Ino)
	binary.LittleEndian.PutUint64(b[8:16], d.Off)
	binary.LittleEndian.PutUint32(b[16:20], d.Namelen)
	binary.LittleEndian.PutUint32(b[20:24], d.Type)
}

// PadToAlignment returns the number of zero bytes needed after n bytes
// to reach the next 8-byte boundary.
func PadToAlignment(n int) int {
	return (8 - n%8) % 8
}
