// Package fs owns the filesystem state machine of §4.E/§4.F: the inode
// slab, the path→inode map, the open-writer registry, and the
// per-opcode request handlers that decode a FUSE request, mutate that
// state, call the storage adapter, and encode a reply.
package fs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/syncutil"
	"golang.org/x/sync/errgroup"

	"github.com/objfuse/ovfs/internal/clock"
	"github.com/objfuse/ovfs/internal/fuseproto"
	"github.com/objfuse/ovfs/internal/logger"
	"github.com/objfuse/ovfs/internal/metrics"
	"github.com/objfuse/ovfs/internal/storageapi"
	"github.com/objfuse/ovfs/internal/transport"
)

// RootIno is the inode number of "/", minted at Init and never reused.
const RootIno = 1

// inodeRecord is the slab entry described in spec.md §3. Size is kept
// fresh from the backend on every Lookup/Getattr; the rest is fixed at
// construction.
type inodeRecord struct {
	ino   uint64
	path  string
	isDir bool
	size  uint64
}

// openWriter is the open-writer registry entry of §3: a backend writer
// handle plus the monotonic append cursor it must be called at.
type openWriter struct {
	mu           sync.Mutex
	handle       storageapi.Writer
	bytesWritten uint64
}

// Config bundles the knobs a Filesystem needs beyond the storage
// backend itself.
type Config struct {
	Backend        storageapi.Backend
	EntryTTL       time.Duration
	WorkerPoolSize int
	Uid            uint32
	Gid            uint32
	DirMode        uint32
	FileMode       uint32

	// Metrics records per-opcode counts/latencies/errors. Nil defaults
	// to metrics.Noop.
	Metrics metrics.Handle

	// Clock times Dispatch calls for the latency histogram. Nil
	// defaults to clock.Real().
	Clock clock.Clock
}

// Filesystem is the request-handler-facing state described in spec.md
// §4.E. Its request entry point is Dispatch(hdr, reader, writer) ->
// (used uint64, err error), which routes by opcode to the per-opcode
// handlers.
type Filesystem struct {
	backend  storageapi.Backend
	entryTTL time.Duration
	uid      uint32
	gid      uint32
	dirMode  uint32
	fileMode uint32
	pool     *backendPool

	// mu guards the three maps below; checkInvariants runs on every
	// Unlock once syncutil invariant checking is enabled (--debug-invariants),
	// mirroring fs/fs.go's syncutil.InvariantMutex discipline.
	mu          syncutil.InvariantMutex
	slab        map[uint64]*inodeRecord
	nextIno     uint64
	pathToIno   map[string]uint64
	openWriters map[string]*openWriter

	metrics metrics.Handle
	clock   clock.Clock
}

// New constructs a Filesystem with the root inode minted, matching
// Init's "lazily allocate the root inode if absent" behavior applied
// eagerly at construction so Lookup(parent=1, ...) always has a parent.
func New(cfg Config) *Filesystem {
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	metricsHandle := cfg.Metrics
	if metricsHandle == nil {
		metricsHandle = metrics.Noop
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	fsys := &Filesystem{
		backend:     cfg.Backend,
		entryTTL:    cfg.EntryTTL,
		uid:         cfg.Uid,
		gid:         cfg.Gid,
		dirMode:     cfg.DirMode,
		fileMode:    cfg.FileMode,
		pool:        newBackendPool(poolSize),
		slab:        make(map[uint64]*inodeRecord),
		nextIno:     RootIno + 1,
		pathToIno:   make(map[string]uint64),
		openWriters: make(map[string]*openWriter),
		metrics:     metricsHandle,
		clock:       clk,
	}

	fsys.slab[RootIno] = &inodeRecord{ino: RootIno, path: "/", isDir: true}
	fsys.pathToIno["/"] = RootIno
	fsys.mu = syncutil.NewInvariantMutex(fsys.checkInvariants)

	return fsys
}

// checkInvariants enforces the Data Model invariants of spec.md §3 on
// every unlock while syncutil invariant checking is enabled. A
// violation is a programming bug, not a client error.
func (fsys *Filesystem) checkInvariants() {
	root, ok := fsys.slab[RootIno]
	if !ok || root.path != "/" || !root.isDir {
		panic("fs: root inode missing or malformed")
	}

	for p, ino := range fsys.pathToIno {
		rec, ok := fsys.slab[ino]
		if !ok {
			panic("fs: path map entry points to a missing slot")
		}
		if rec.path != p {
			panic("fs: path map / slab path mismatch for ino " + itoa(ino))
		}
	}

	for ino := range fsys.slab {
		if ino == 0 {
			panic("fs: slot 0 must never be allocated")
		}
	}
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// mintInode allocates a new slab slot for path, or returns the existing
// one if path is already mapped (spec.md §3: "dedupe inode allocation
// when the same path is looked up twice"). Caller must hold fsys.mu.
func (fsys *Filesystem) mintInode(p string, isDir bool, size uint64) *inodeRecord {
	if ino, ok := fsys.pathToIno[p]; ok {
		rec := fsys.slab[ino]
		rec.size = size
		return rec
	}

	ino := fsys.nextIno
	fsys.nextIno++
	rec := &inodeRecord{ino: ino, path: p, isDir: isDir, size: size}
	fsys.slab[ino] = rec
	fsys.pathToIno[p] = ino
	return rec
}

// childPath joins a parent directory path and a child name into an
// absolute backend path. It never adds a trailing slash; dirPath does
// that for the paths handed to CreateDir/List.
func childPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(parentPath, "/") + "/" + name
}

// dirPath returns p with exactly one trailing slash, used whenever a
// path is handed to List/CreateDir.
func dirPath(p string) string {
	if p == "/" {
		return "/"
	}
	return strings.TrimSuffix(p, "/") + "/"
}

func (fsys *Filesystem) attrFor(rec *inodeRecord) fuseproto.Attr {
	mode := fsys.fileMode
	nlink := uint32(fuseproto.DefaultFileNlink)
	if rec.isDir {
		mode = fsys.dirMode
		nlink = fuseproto.DefaultDirNlink
	}

	size := rec.size
	if rec.isDir {
		size = 0
	}

	return fuseproto.Attr{
		Ino:     rec.ino,
		Size:    size,
		Blocks:  (size + 511) / 512,
		Mode:    mode,
		Nlink:   nlink,
		UID:     fsys.uid,
		GID:     fsys.gid,
		Blksize: 4096,
	}
}

func (fsys *Filesystem) ttlSecsAndNsecs() (uint64, uint32) {
	d := fsys.entryTTL
	return uint64(d / time.Second), uint32(d % time.Second)
}

// backendPool bounds concurrent backend I/O to a fixed worker count
// while keeping each call synchronous from the caller's perspective,
// per spec.md §5 ("handler logic is synchronous from the dispatcher's
// perspective... backend requests execute in parallel... via the async
// pool").
type backendPool struct {
	sem chan struct{}
}

func newBackendPool(size int) *backendPool {
	return &backendPool{sem: make(chan struct{}, size)}
}

func (p *backendPool) run(f func() error) error {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	g, _ := errgroup.WithContext(context.Background())
	g.Go(f)
	return g.Wait()
}

// statPath runs backend.Stat on the worker pool.
func (fsys *Filesystem) statPath(p string) (storageapi.ObjectInfo, error) {
	var info storageapi.ObjectInfo
	err := fsys.pool.run(func() error {
		var statErr error
		info, statErr = fsys.backend.Stat(context.Background(), p)
		return statErr
	})
	return info, err
}

func warnf(format string, args ...any) { logger.Warnf(format, args...) }
