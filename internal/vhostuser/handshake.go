package vhostuser

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/objfuse/ovfs/internal/logger"
)

// VringConfig is the negotiated state of one virtqueue, assembled
// across the SET_VRING_* sequence of messages before the driver sends
// SET_VRING_ENABLE.
type VringConfig struct {
	Index   uint32
	Num     int
	Addr    VhostVringAddr
	KickFD  int
	CallFD  int
	ErrFD   int
	Enabled bool
}

// OnVringEnabled is invoked once a vring transitions to enabled, with
// the negotiated config and the memory table to resolve descriptor
// addresses against. It is the handoff point into internal/vring.
type OnVringEnabled func(cfg VringConfig, mem *MemoryTable)

// Session is one accepted vhost-user control connection: the
// handshake state machine of §4.H(ADDED). SessionID distinguishes
// connections in logs when a driver reconnects.
type Session struct {
	SessionID string

	conn   *net.UnixConn
	mem    *MemoryTable
	vrings [NumQueues]VringConfig

	features      uint64
	protoFeatures uint64

	OnVringEnabled OnVringEnabled
}

// Listen removes any stale socket at path and starts listening.
func Listen(path string) (*net.UnixListener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("vhostuser: remove stale socket: %w", err)
	}
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	return net.ListenUnix("unix", addr)
}

// Accept blocks for one incoming connection and wraps it as a fresh
// Session with an empty memory table.
func Accept(ln *net.UnixListener) (*Session, error) {
	conn, err := ln.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return &Session{
		SessionID: uuid.NewString(),
		conn:      conn,
		mem:       NewMemoryTable(),
	}, nil
}

// Close releases the connection and any mapped memory.
func (s *Session) Close() error {
	s.mem.Reset()
	return s.conn.Close()
}

// Serve reads and answers control messages until the connection closes
// or a malformed message is received. It returns nil on a clean EOF.
func (s *Session) Serve() error {
	for {
		hdr, body, fds, err := s.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || isConnClosed(err) {
				return nil
			}
			return fmt.Errorf("vhostuser[%s]: read message: %w", s.SessionID, err)
		}

		if err := s.handle(hdr, body, fds); err != nil {
			logger.Warnf("vhostuser[%s]: %s: %v", s.SessionID, hdr.Request, err)
		}
	}
}

func isConnClosed(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && !nerr.Timeout() && !nerr.Temporary()
}

// readMessage reads one Header plus its payload, collecting any file
// descriptors passed alongside via SCM_RIGHTS (SET_MEM_TABLE and the
// per-vring kick/call/err messages carry exactly one each).
func (s *Session) readMessage() (Header, []byte, []int, error) {
	hbuf := make([]byte, HeaderSize)
	oob := make([]byte, unix.CmsgSpace(8*memRegionBaselineCount))

	n, oobn, _, _, err := s.conn.ReadMsgUnix(hbuf, oob)
	if err != nil {
		return Header{}, nil, nil, err
	}
	if n != HeaderSize {
		return Header{}, nil, nil, fmt.Errorf("short header read: %d bytes", n)
	}
	hdr := DecodeHeader(hbuf)

	var fds []int
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, scm := range scms {
				if rights, err := unix.ParseUnixRights(&scm); err == nil {
					fds = append(fds, rights...)
				}
			}
		}
	}

	body := make([]byte, hdr.Size)
	if hdr.Size > 0 {
		if _, err := readFull(s.conn, body); err != nil {
			return Header{}, nil, nil, err
		}
	}
	return hdr, body, fds, nil
}

func readFull(conn *net.UnixConn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Session) handle(hdr Header, body []byte, fds []int) error {
	switch hdr.Request {
	case ReqGetFeatures:
		return s.reply(hdr, U64Payload{Num: OfferedFeatures})
	case ReqSetFeatures:
		s.features = DecodeU64Payload(body).Num
		return s.ackIfNeeded(hdr)
	case ReqGetProtocolFeatures:
		return s.reply(hdr, U64Payload{Num: OfferedProtocolFeatures})
	case ReqSetProtocolFeatures:
		s.protoFeatures = DecodeU64Payload(body).Num
		return s.ackIfNeeded(hdr)
	case ReqGetQueueNum:
		return s.reply(hdr, U64Payload{Num: NumQueues})
	case ReqSetOwner:
		return s.ackIfNeeded(hdr)
	case ReqSetMemTable:
		return s.setMemTable(hdr, body, fds)
	case ReqSetVringNum:
		st := DecodeVringState(body)
		s.vrings[st.Index].Num = int(st.Num)
		return s.ackIfNeeded(hdr)
	case ReqSetVringAddr:
		addr := DecodeVringAddr(body)
		s.vrings[addr.Index].Addr = addr
		s.vrings[addr.Index].Index = addr.Index
		return s.ackIfNeeded(hdr)
	case ReqSetVringBase:
		return s.ackIfNeeded(hdr)
	case ReqGetVringBase:
		st := DecodeVringState(body)
		return s.reply(hdr, VhostVringState{Index: st.Index, Num: 0})
	case ReqSetVringKick:
		return s.setVringFD(hdr, body, fds, func(v *VringConfig, fd int) { v.KickFD = fd })
	case ReqSetVringCall:
		return s.setVringFD(hdr, body, fds, func(v *VringConfig, fd int) { v.CallFD = fd })
	case ReqSetVringErr:
		return s.setVringFD(hdr, body, fds, func(v *VringConfig, fd int) { v.ErrFD = fd })
	case ReqSetVringEnable:
		st := DecodeVringState(body)
		return s.setVringEnable(hdr, st)
	default:
		return fmt.Errorf("unhandled request")
	}
}

func (s *Session) setMemTable(hdr Header, body []byte, fds []int) error {
	regions := decodeMemTable(body)
	if len(regions) != len(fds) {
		return fmt.Errorf("%d regions but %d fds", len(regions), len(fds))
	}

	s.mem.Reset()
	for i, r := range regions {
		if err := s.mem.AddRegion(fds[i], r.GuestPhysAddr, r.MemorySize, r.MmapOffset); err != nil {
			return err
		}
	}
	return s.ackIfNeeded(hdr)
}

func (s *Session) setVringFD(hdr Header, body []byte, fds []int, assign func(*VringConfig, int)) error {
	index := DecodeU64Payload(body).Num & 0xff
	if len(fds) != 1 {
		return fmt.Errorf("expected exactly one fd, got %d", len(fds))
	}
	assign(&s.vrings[index], fds[0])
	return s.ackIfNeeded(hdr)
}

func (s *Session) setVringEnable(hdr Header, st VhostVringState) error {
	v := &s.vrings[st.Index]
	v.Enabled = st.Num != 0
	if v.Enabled && s.OnVringEnabled != nil {
		s.OnVringEnabled(*v, s.mem)
	}
	return s.ackIfNeeded(hdr)
}

// reply encodes payload and writes it back prefixed with a reply
// Header, used for GET_* requests which always reply regardless of
// REPLY_ACK.
func (s *Session) reply(hdr Header, payload interface {
	Encode([]byte)
}) error {
	size := replySize(payload)
	buf := make([]byte, HeaderSize+size)
	Header{Request: hdr.Request, Size: uint32(size)}.Encode(buf[:HeaderSize])
	payload.Encode(buf[HeaderSize:])
	_, err := s.conn.Write(buf)
	return err
}

func replySize(payload interface{ Encode([]byte) }) int {
	switch payload.(type) {
	case U64Payload:
		return u64PayloadSize
	case VhostVringState:
		return vringStateSize
	default:
		return 0
	}
}

// ackIfNeeded writes a zero U64Payload reply when the driver set the
// REPLY_ACK flag, per the vhost-user protocol's explicit-ack scheme.
func (s *Session) ackIfNeeded(hdr Header) error {
	if !hdr.NeedReply() {
		return nil
	}
	return s.reply(hdr, U64Payload{Num: 0})
}
