package fs

import (
	"bytes"
	"context"
	"errors"

	"github.com/objfuse/ovfs/internal/fuseproto"
	"github.com/objfuse/ovfs/internal/storageapi"
	"github.com/objfuse/ovfs/internal/transport"
	"github.com/objfuse/ovfs/internal/vbuffer"
)

// Dispatch routes an inbound request by opcode, per §4.D/§4.F. hdr has
// already been decoded by the caller; r is positioned immediately after
// it. Dispatch never returns a non-nil error for a per-request failure
// — those become error replies — only for a transport-level write
// failure on w, which the event loop treats as fatal to the chain.
func (fsys *Filesystem) Dispatch(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer) (uint64, error) {
	op := fuseproto.Opcode(hdr.Opcode).String()
	start := fsys.clock.Now()
	defer func() {
		fsys.metrics.OpsCount(context.Background(), op)
		fsys.metrics.OpsLatency(context.Background(), op, fsys.clock.Now().Sub(start))
	}()

	bodyLen := int(hdr.Len) - fuseproto.InHeaderSize
	if bodyLen < 0 || hdr.Len > fuseproto.MaxMessageLen {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	switch fuseproto.Opcode(hdr.Opcode) {
	case fuseproto.OpInit:
		return fsys.handleInit(hdr, r, w)
	case fuseproto.OpLookup:
		return fsys.handleLookup(hdr, r, w, bodyLen)
	case fuseproto.OpGetattr:
		return fsys.handleGetattr(hdr, w)
	case fuseproto.OpSetattr:
		return fsys.handleSetattr(hdr, r, w, bodyLen)
	case fuseproto.OpCreate:
		return fsys.handleCreate(hdr, r, w, bodyLen)
	case fuseproto.OpMkdir:
		return fsys.handleMkdir(hdr, r, w, bodyLen)
	case fuseproto.OpUnlink, fuseproto.OpRmdir:
		return fsys.handleUnlink(hdr, r, w, bodyLen)
	case fuseproto.OpOpen, fuseproto.OpOpendir:
		return fsys.handleOpen(hdr, r, w)
	case fuseproto.OpRead:
		return fsys.handleRead(hdr, r, w)
	case fuseproto.OpWrite:
		return fsys.handleWrite(hdr, r, w)
	case fuseproto.OpReaddir:
		return fsys.handleReaddir(hdr, r, w)
	case fuseproto.OpRelease:
		return fsys.handleRelease(hdr, w)
	case fuseproto.OpReleasedir, fuseproto.OpFlush, fuseproto.OpFsyncdir, fuseproto.OpAccess:
		return writeSuccessReply(w, hdr, nil)
	case fuseproto.OpForget, fuseproto.OpDestroy:
		// Forget/Destroy carry no reply body and, per the FUSE ABI, Forget
		// expects no reply at all; nothing is written to w, and the vring
		// bridge pushes the chain onto the used ring with length 0. See
		// Open Question decision on Forget in DESIGN.md.
		return 0, nil
	default:
		return fsys.writeErrorReply(w, hdr, -errENOSYS)
	}
}

// readName reads bodyLen bytes and returns the NUL-terminated name
// contained in them, or an EINVAL-flavored error if no NUL is present.
func readName(r *transport.Reader, bodyLen int) (string, error) {
	buf := make([]byte, bodyLen)
	if err := r.ReadExact(buf); err != nil {
		return "", err
	}
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		return "", errInvalidName
	}
	return string(buf[:i]), nil
}

// errInvalidName distinguishes a missing-NUL name (§7: EINVAL) from a
// short read on the underlying chain (§7: EIO).
var errInvalidName = errors.New("fs: name missing NUL terminator")

// nameErrno maps a readName error to its §7 errno.
func nameErrno(err error) int32 {
	if errors.Is(err, errInvalidName) {
		return -errEINVAL
	}
	return -errEIO
}

func writeSuccessReply(w *transport.Writer, hdr fuseproto.InHeader, body []byte) (uint64, error) {
	total := fuseproto.OutHeaderSize + len(body)
	out := fuseproto.OutHeader{Len: uint32(total), Error: 0, Unique: hdr.Unique}
	hbuf := make([]byte, fuseproto.OutHeaderSize)
	out.Encode(hbuf)

	if _, err := w.Write(hbuf); err != nil {
		return 0, err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return 0, err
		}
	}
	return uint64(total), nil
}

func (fsys *Filesystem) writeErrorReply(w *transport.Writer, hdr fuseproto.InHeader, errno int32) (uint64, error) {
	fsys.metrics.OpsErrorCount(context.Background(), fuseproto.Opcode(hdr.Opcode).String(), errno)

	out := fuseproto.OutHeader{Len: fuseproto.OutHeaderSize, Error: errno, Unique: hdr.Unique}
	hbuf := make([]byte, fuseproto.OutHeaderSize)
	out.Encode(hbuf)
	if _, err := w.Write(hbuf); err != nil {
		return 0, err
	}
	return fuseproto.OutHeaderSize, nil
}

func (fsys *Filesystem) handleInit(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer) (uint64, error) {
	var in fuseproto.InitIn
	if err := r.ReadRecordInto(fuseproto.InitInSize, func(b []byte) error {
		in = fuseproto.DecodeInitIn(b)
		return nil
	}); err != nil {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	if in.Major != fuseproto.ProtocolVersionMajor || in.Minor < fuseproto.MinSupportedMinor {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	out := fuseproto.InitOut{
		Major:    fuseproto.ProtocolVersionMajor,
		Minor:    fuseproto.ProtocolVersionMinor,
		MaxWrite: fuseproto.MaxWriteSize,
	}
	body := make([]byte, fuseproto.InitOutSize)
	out.Encode(body)
	return writeSuccessReply(w, hdr, body)
}

func (fsys *Filesystem) entryOutFor(rec *inodeRecord) fuseproto.EntryOut {
	ttlSecs, ttlNsecs := fsys.ttlSecsAndNsecs()
	return fuseproto.EntryOut{
		NodeID:         rec.ino,
		EntryValid:     ttlSecs,
		AttrValid:      ttlSecs,
		EntryValidNsec: ttlNsecs,
		AttrValidNsec:  ttlNsecs,
		Attr:           fsys.attrFor(rec),
	}
}

func (fsys *Filesystem) handleLookup(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer, bodyLen int) (uint64, error) {
	name, err := readName(r, bodyLen)
	if err != nil {
		return fsys.writeErrorReply(w, hdr, nameErrno(err))
	}

	fsys.mu.Lock()
	parent, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if !ok || !parent.isDir {
		return fsys.writeErrorReply(w, hdr, -errENOENT)
	}

	p := childPath(parent.path, name)
	info, statErr := fsys.statPath(p)
	if storageapi.KindOf(statErr) == storageapi.KindNotFound {
		// Directories are keyed with a trailing slash (see handleMkdir).
		if dirInfo, dirErr := fsys.statPath(dirPath(p)); dirErr == nil && dirInfo.IsDir {
			p, info, statErr = dirPath(p), dirInfo, nil
		}
	}
	if statErr != nil {
		return fsys.writeErrorReply(w, hdr, errnoForBackend(statErr))
	}

	fsys.mu.Lock()
	rec := fsys.mintInode(p, info.IsDir, info.Size)
	fsys.mu.Unlock()

	body := make([]byte, fuseproto.EntryOutSize)
	fsys.entryOutFor(rec).Encode(body)
	return writeSuccessReply(w, hdr, body)
}

func (fsys *Filesystem) handleGetattr(hdr fuseproto.InHeader, w *transport.Writer) (uint64, error) {
	fsys.mu.Lock()
	rec, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if !ok {
		return fsys.writeErrorReply(w, hdr, -errENOENT)
	}

	if !rec.isDir {
		info, err := fsys.statPath(rec.path)
		if err != nil {
			return fsys.writeErrorReply(w, hdr, errnoForBackend(err))
		}
		fsys.mu.Lock()
		rec.size = info.Size
		fsys.mu.Unlock()
	}

	ttlSecs, ttlNsecs := fsys.ttlSecsAndNsecs()
	out := fuseproto.AttrOut{AttrValid: ttlSecs, AttrValidNsec: ttlNsecs, Attr: fsys.attrFor(rec)}
	body := make([]byte, fuseproto.AttrOutSize)
	out.Encode(body)
	return writeSuccessReply(w, hdr, body)
}

// handleSetattr is a no-op per spec.md §4.F/§9: no backend here models
// POSIX mode/owner/size truncation, so it replies current attributes
// unmodified.
func (fsys *Filesystem) handleSetattr(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer, bodyLen int) (uint64, error) {
	if bodyLen > 0 {
		if _, err := r.Read(make([]byte, bodyLen)); err != nil {
			return fsys.writeErrorReply(w, hdr, -errEIO)
		}
	}
	return fsys.handleGetattr(hdr, w)
}

// Create's mode/umask/flags fields are decoded but unused: every inode
// this server synthesizes gets fsys.fileMode regardless, since backends
// have no permission model to honor them against (Non-goals, §1).
func (fsys *Filesystem) handleCreate(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer, bodyLen int) (uint64, error) {
	if err := r.ReadRecordInto(fuseproto.CreateInSize, func(b []byte) error {
		fuseproto.DecodeCreateIn(b)
		return nil
	}); err != nil {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	name, err := readName(r, bodyLen-fuseproto.CreateInSize)
	if err != nil {
		return fsys.writeErrorReply(w, hdr, nameErrno(err))
	}

	fsys.mu.Lock()
	parent, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if !ok || !parent.isDir {
		return fsys.writeErrorReply(w, hdr, -errENOENT)
	}

	caps := fsys.backend.Capabilities()
	if !caps.Write {
		return fsys.writeErrorReply(w, hdr, -errEACCES)
	}

	p := childPath(parent.path, name)

	var handle storageapi.Writer
	openErr := fsys.pool.run(func() error {
		var e error
		handle, e = fsys.backend.Writer(context.Background(), p, 0)
		return e
	})
	if openErr != nil {
		return fsys.writeErrorReply(w, hdr, errnoForBackend(openErr))
	}

	fsys.mu.Lock()
	rec := fsys.mintInode(p, false, 0)
	fsys.openWriters[p] = &openWriter{handle: handle}
	fsys.mu.Unlock()

	body := make([]byte, fuseproto.EntryOutSize+fuseproto.OpenOutSize)
	fsys.entryOutFor(rec).Encode(body[:fuseproto.EntryOutSize])
	fuseproto.OpenOut{Fh: rec.ino}.Encode(body[fuseproto.EntryOutSize:])
	return writeSuccessReply(w, hdr, body)
}

// Mkdir's mode/umask fields are decoded but unused, for the same reason
// as Create's.
func (fsys *Filesystem) handleMkdir(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer, bodyLen int) (uint64, error) {
	if err := r.ReadRecordInto(fuseproto.MkdirInSize, func(b []byte) error {
		fuseproto.DecodeMkdirIn(b)
		return nil
	}); err != nil {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	name, err := readName(r, bodyLen-fuseproto.MkdirInSize)
	if err != nil {
		return fsys.writeErrorReply(w, hdr, nameErrno(err))
	}

	fsys.mu.Lock()
	parent, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if !ok || !parent.isDir {
		return fsys.writeErrorReply(w, hdr, -errENOENT)
	}

	p := dirPath(childPath(parent.path, name))
	mkErr := fsys.pool.run(func() error {
		return fsys.backend.CreateDir(context.Background(), p)
	})
	if mkErr != nil {
		return fsys.writeErrorReply(w, hdr, errnoForBackend(mkErr))
	}

	fsys.mu.Lock()
	rec := fsys.mintInode(p, true, 0)
	fsys.mu.Unlock()

	body := make([]byte, fuseproto.EntryOutSize)
	fsys.entryOutFor(rec).Encode(body)
	return writeSuccessReply(w, hdr, body)
}

func (fsys *Filesystem) handleUnlink(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer, bodyLen int) (uint64, error) {
	name, err := readName(r, bodyLen)
	if err != nil {
		return fsys.writeErrorReply(w, hdr, nameErrno(err))
	}

	fsys.mu.Lock()
	parent, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if !ok || !parent.isDir {
		return fsys.writeErrorReply(w, hdr, -errENOENT)
	}

	p := childPath(parent.path, name)
	delPath := p
	if fuseproto.Opcode(hdr.Opcode) == fuseproto.OpRmdir {
		delPath = dirPath(p)
	}

	delErr := fsys.pool.run(func() error {
		return fsys.backend.Delete(context.Background(), delPath)
	})
	if delErr != nil {
		return fsys.writeErrorReply(w, hdr, errnoForBackend(delErr))
	}

	// The slab slot is intentionally kept; spec.md §4.F.
	fsys.mu.Lock()
	delete(fsys.pathToIno, p)
	fsys.mu.Unlock()

	return writeSuccessReply(w, hdr, nil)
}

func (fsys *Filesystem) handleOpen(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer) (uint64, error) {
	var in fuseproto.OpenIn
	if err := r.ReadRecordInto(fuseproto.OpenInSize, func(b []byte) error {
		in = fuseproto.DecodeOpenIn(b)
		return nil
	}); err != nil {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	fsys.mu.Lock()
	rec, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if !ok {
		return fsys.writeErrorReply(w, hdr, -errENOENT)
	}

	const (
		oWronly = 0o1
		oRdwr   = 0o2
		oAppend = 0o2000
	)
	wantsWrite := in.Flags&(oWronly|oRdwr) != 0
	if wantsWrite && !rec.isDir {
		caps := fsys.backend.Capabilities()
		if !caps.Write {
			return fsys.writeErrorReply(w, hdr, -errEACCES)
		}

		append_ := in.Flags&oAppend != 0
		startOffset := uint64(0)
		if append_ {
			if !caps.Append {
				return fsys.writeErrorReply(w, hdr, -errEACCES)
			}
			info, err := fsys.statPath(rec.path)
			if err != nil {
				return fsys.writeErrorReply(w, hdr, errnoForBackend(err))
			}
			startOffset = info.Size
		}

		var handle storageapi.Writer
		openErr := fsys.pool.run(func() error {
			var e error
			handle, e = fsys.backend.Writer(context.Background(), rec.path, startOffset)
			return e
		})
		if openErr != nil {
			return fsys.writeErrorReply(w, hdr, errnoForBackend(openErr))
		}

		fsys.mu.Lock()
		fsys.openWriters[rec.path] = &openWriter{handle: handle, bytesWritten: startOffset}
		fsys.mu.Unlock()
	}

	body := make([]byte, fuseproto.OpenOutSize)
	fuseproto.OpenOut{Fh: rec.ino}.Encode(body)
	return writeSuccessReply(w, hdr, body)
}

func (fsys *Filesystem) handleRead(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer) (uint64, error) {
	var in fuseproto.ReadIn
	if err := r.ReadRecordInto(fuseproto.ReadWriteInSize, func(b []byte) error {
		in = fuseproto.DecodeReadIn(b)
		return nil
	}); err != nil {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	fsys.mu.Lock()
	rec, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if !ok {
		return fsys.writeErrorReply(w, hdr, -errENOENT)
	}

	var data []byte
	readErr := fsys.pool.run(func() error {
		var e error
		data, e = fsys.backend.ReadRange(context.Background(), rec.path, in.Offset, uint64(in.Size))
		return e
	})
	if readErr != nil {
		return fsys.writeErrorReply(w, hdr, errnoForBackend(readErr))
	}

	staging := vbuffer.NewBuffer(data)
	tail, err := w.SplitAt(fuseproto.OutHeaderSize)
	if err != nil {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}
	n, err := tail.WriteFrom(staging, uint64(len(data)))
	if err != nil {
		return 0, err
	}

	out := fuseproto.OutHeader{Len: uint32(fuseproto.OutHeaderSize + n), Error: 0, Unique: hdr.Unique}
	hbuf := make([]byte, fuseproto.OutHeaderSize)
	out.Encode(hbuf)
	if _, err := w.Write(hbuf); err != nil {
		return 0, err
	}
	return uint64(fuseproto.OutHeaderSize + n), nil
}

func (fsys *Filesystem) handleWrite(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer) (uint64, error) {
	var in fuseproto.WriteIn
	if err := r.ReadRecordInto(fuseproto.ReadWriteInSize, func(b []byte) error {
		in = fuseproto.DecodeWriteIn(b)
		return nil
	}); err != nil {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	data := make([]byte, in.Size)
	if err := r.ReadExact(data); err != nil {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	fsys.mu.Lock()
	rec, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if !ok {
		return fsys.writeErrorReply(w, hdr, -errENOENT)
	}

	fsys.mu.Lock()
	ow, ok := fsys.openWriters[rec.path]
	fsys.mu.Unlock()
	if !ok {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	ow.mu.Lock()
	if in.Offset != ow.bytesWritten {
		ow.mu.Unlock()
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	writeErr := fsys.pool.run(func() error {
		_, e := ow.handle.Write(data)
		return e
	})
	if writeErr != nil {
		ow.mu.Unlock()
		return fsys.writeErrorReply(w, hdr, errnoForBackend(writeErr))
	}
	ow.bytesWritten += uint64(len(data))
	newSize := ow.bytesWritten
	ow.mu.Unlock()

	fsys.mu.Lock()
	rec.size = newSize
	fsys.mu.Unlock()

	body := make([]byte, fuseproto.WriteOutSize)
	fuseproto.WriteOut{Size: uint32(len(data))}.Encode(body)
	return writeSuccessReply(w, hdr, body)
}

func (fsys *Filesystem) handleReaddir(hdr fuseproto.InHeader, r *transport.Reader, w *transport.Writer) (uint64, error) {
	var in fuseproto.ReadIn
	if err := r.ReadRecordInto(fuseproto.ReadWriteInSize, func(b []byte) error {
		in = fuseproto.DecodeReadIn(b)
		return nil
	}); err != nil {
		return fsys.writeErrorReply(w, hdr, -errEIO)
	}

	fsys.mu.Lock()
	rec, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if !ok || !rec.isDir {
		return fsys.writeErrorReply(w, hdr, -errENOTDIR)
	}

	var entries []storageapi.DirEntry
	listErr := fsys.pool.run(func() error {
		var e error
		entries, e = fsys.backend.List(context.Background(), dirPath(rec.path))
		return e
	})
	if listErr != nil {
		return fsys.writeErrorReply(w, hdr, errnoForBackend(listErr))
	}

	var body bytes.Buffer
	for i, entry := range entries {
		off := uint64(i + 1)
		if off <= in.Offset {
			continue
		}

		childP := childPath(rec.path, entry.Name)
		if entry.IsDir {
			childP = dirPath(childP)
		}

		fsys.mu.Lock()
		child := fsys.mintInode(childP, entry.IsDir, entry.Size)
		fsys.mu.Unlock()

		typ := uint32(fuseproto.DirentTypeReg)
		if entry.IsDir {
			typ = fuseproto.DirentTypeDir
		}

		name := []byte(entry.Name)
		pad := fuseproto.PadToAlignment(fuseproto.DirEntryOutSize + len(name))
		recordLen := fuseproto.DirEntryOutSize + len(name) + pad
		if body.Len()+recordLen > int(in.Size) {
			break
		}

		rawHeader := make([]byte, fuseproto.DirEntryOutSize)
		fuseproto.DirEntryOut{Ino: child.ino, Off: off, Namelen: uint32(len(name)), Type: typ}.Encode(rawHeader)
		body.Write(rawHeader)
		body.Write(name)
		if pad > 0 {
			body.Write(make([]byte, pad))
		}
	}

	return writeSuccessReply(w, hdr, body.Bytes())
}

func (fsys *Filesystem) handleRelease(hdr fuseproto.InHeader, w *transport.Writer) (uint64, error) {
	fsys.mu.Lock()
	rec, ok := fsys.slab[hdr.NodeID]
	fsys.mu.Unlock()
	if ok {
		fsys.mu.Lock()
		ow, hasWriter := fsys.openWriters[rec.path]
		if hasWriter {
			delete(fsys.openWriters, rec.path)
		}
		fsys.mu.Unlock()

		if hasWriter {
			if closeErr := fsys.pool.run(ow.handle.Close); closeErr != nil {
				warnf("fs: release close writer for %q: %v", rec.path, closeErr)
			}
		}
	}

	return writeSuccessReply(w, hdr, nil)
}
