// Package memstore implements an in-memory storageapi.Backend used as a
// deterministic test double, standing in for the fake backend role
// gcsfuse fills with internal/storage/fake (not present in source form
// in the retrieval pack; reimplemented fresh here).
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/objfuse/ovfs/internal/storageapi"
)

// Backend is a concurrency-safe, in-memory object store keyed by
// full path. Directories are represented only implicitly by object
// prefixes, plus explicit zero-byte markers created by CreateDir.
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
	dirs    map[string]bool

	caps storageapi.Capabilities
}

// New builds an empty store. caps lets tests exercise capability-gated
// error paths (e.g. a store with Append=false).
func New(caps storageapi.Capabilities) *Backend {
	return &Backend{
		objects: make(map[string][]byte),
		dirs:    make(map[string]bool),
		caps:    caps,
	}
}

// NewDefault builds a store with every capability enabled, the common
// case for filesystem-level tests.
func NewDefault() *Backend {
	return New(storageapi.Capabilities{
		Write: true, Append: true, CreateDir: true, List: true, RangedRead: true,
	})
}

// Seed directly installs an object's contents, bypassing Write, for
// test setup.
func (b *Backend) Seed(path string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = append([]byte(nil), data...)
}

func (b *Backend) Capabilities() storageapi.Capabilities { return b.caps }

func (b *Backend) Stat(_ context.Context, path string) (storageapi.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if strings.HasSuffix(path, "/") || b.dirs[path] {
		if !b.hasPrefix(path) && !b.dirs[path] {
			return storageapi.ObjectInfo{}, storageapi.NewError(storageapi.KindNotFound, "stat", path, nil)
		}
		return storageapi.ObjectInfo{Path: path, IsDir: true}, nil
	}

	data, ok := b.objects[path]
	if !ok {
		return storageapi.ObjectInfo{}, storageapi.NewError(storageapi.KindNotFound, "stat", path, nil)
	}
	return storageapi.ObjectInfo{Path: path, Size: uint64(len(data))}, nil
}

func (b *Backend) hasPrefix(dirPath string) bool {
	for p := range b.objects {
		if strings.HasPrefix(p, dirPath) {
			return true
		}
	}
	for d := range b.dirs {
		if d != dirPath && strings.HasPrefix(d, dirPath) {
			return true
		}
	}
	return false
}

func (b *Backend) List(_ context.Context, dirPath string) ([]storageapi.DirEntry, error) {
	if !b.caps.List {
		return nil, storageapi.NewError(storageapi.KindUnsupported, "list", dirPath, nil)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]storageapi.DirEntry)
	add := func(name string, isDir bool, size uint64) {
		if name == "" {
			return
		}
		if slash := strings.IndexByte(name, '/'); slash >= 0 {
			name = name[:slash]
			isDir = true
			size = 0
		}
		if e, ok := seen[name]; ok && e.IsDir {
			return
		}
		seen[name] = storageapi.DirEntry{Name: name, IsDir: isDir, Size: size}
	}

	for p, data := range b.objects {
		if strings.HasPrefix(p, dirPath) {
			add(strings.TrimPrefix(p, dirPath), false, uint64(len(data)))
		}
	}
	for d := range b.dirs {
		if d != dirPath && strings.HasPrefix(d, dirPath) {
			add(strings.TrimPrefix(d, dirPath), true, 0)
		}
	}

	entries := make([]storageapi.DirEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (b *Backend) ReadRange(_ context.Context, path string, offset, length uint64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.objects[path]
	if !ok {
		return nil, storageapi.NewError(storageapi.KindNotFound, "read_range", path, nil)
	}
	if !b.caps.RangedRead && offset != 0 {
		return nil, storageapi.NewError(storageapi.KindUnsupported, "read_range", path, nil)
	}
	if offset > uint64(len(data)) {
		return nil, storageapi.NewError(storageapi.KindRangeNotSatisfied, "read_range", path, nil)
	}
	end := offset + length
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

func (b *Backend) Write(_ context.Context, path string, data []byte) error {
	if !b.caps.Write {
		return storageapi.NewError(storageapi.KindUnsupported, "write", path, nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = append([]byte(nil), data...)
	return nil
}

func (b *Backend) Writer(_ context.Context, path string, startOffset uint64) (storageapi.Writer, error) {
	if !b.caps.Write {
		return nil, storageapi.NewError(storageapi.KindUnsupported, "writer", path, nil)
	}
	if startOffset != 0 && !b.caps.Append {
		return nil, storageapi.NewError(storageapi.KindUnsupported, "writer", path, nil)
	}

	b.mu.Lock()
	existing := append([]byte(nil), b.objects[path][:min64(startOffset, uint64(len(b.objects[path])))]...)
	b.mu.Unlock()

	return &memWriter{backend: b, path: path, buf: existing}, nil
}

func (b *Backend) CreateDir(_ context.Context, dirPath string) error {
	if !b.caps.CreateDir {
		return storageapi.NewError(storageapi.KindUnsupported, "create_dir", dirPath, nil)
	}
	if !strings.HasSuffix(dirPath, "/") {
		dirPath += "/"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirs[dirPath] = true
	return nil
}

func (b *Backend) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[path]; ok {
		delete(b.objects, path)
		return nil
	}
	if b.dirs[path] {
		delete(b.dirs, path)
		return nil
	}
	return storageapi.NewError(storageapi.KindNotFound, "delete", path, nil)
}

type memWriter struct {
	backend *Backend
	path    string
	buf     []byte
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	w.backend.objects[w.path] = w.buf
	return nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
