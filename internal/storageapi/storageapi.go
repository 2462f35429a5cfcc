// Package storageapi defines the storage-agnostic backend contract of
// §4.G: an asynchronous capability set that the filesystem layer drives
// without knowing whether the bytes live in GCS, S3, or memory.
package storageapi

import (
	"context"
	"errors"
	"io"
)

// ErrorKind classifies a backend failure so the dispatcher can map it to
// a negated errno per §7, without depending on any backend's own error
// types.
type ErrorKind int

const (
	// KindOther is any failure not covered by a more specific kind.
	KindOther ErrorKind = iota
	KindUnsupported
	KindNotFound
	KindPermissionDenied
	KindAlreadyExists
	KindIsADirectory
	KindNotADirectory
	KindRangeNotSatisfied
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindAlreadyExists:
		return "already_exists"
	case KindIsADirectory:
		return "is_a_directory"
	case KindNotADirectory:
		return "not_a_directory"
	case KindRangeNotSatisfied:
		return "range_not_satisfied"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// Error is the typed error every Backend method returns on failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + " " + e.Path + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a classified backend Error.
func NewError(kind ErrorKind, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps)
// is a *Error, otherwise KindOther.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOther
}

// Capabilities reports what a Backend implementation can do; Open
// consults these before accepting write-like flags (§4.G, §7).
type Capabilities struct {
	Write      bool
	Append     bool
	CreateDir  bool
	List       bool
	RangedRead bool
}

// ObjectInfo is the subset of backend metadata the filesystem layer
// needs to populate an Attr (§3).
type ObjectInfo struct {
	Path  string
	Size  uint64
	IsDir bool
}

// DirEntry is one entry returned by List, in listing order.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  uint64
}

// Writer is an append-only handle returned by Backend.Writer. The Writer
// itself does not check offsets: internal/fs rejects any Write request
// whose offset differs from the cursor the writer was opened with plus
// bytes written so far, before it reaches the Writer.
type Writer interface {
	io.Writer
	io.Closer
}

// Backend is the storage-adapter contract of §4.G. Every method is
// asynchronous with respect to the caller (a context-bound blocking
// call dispatched onto the worker pool described in §5); callers are
// expected to invoke these from the async executor, never from a
// latency-sensitive hot path without one.
type Backend interface {
	// Capabilities reports this backend's fixed capability bits.
	Capabilities() Capabilities

	// Stat returns metadata for path, or a KindNotFound *Error.
	Stat(ctx context.Context, path string) (ObjectInfo, error)

	// List enumerates direct children of a directory path (which must
	// end in "/"), in any stable order. Errors with KindUnsupported if
	// Capabilities().List is false.
	List(ctx context.Context, dirPath string) ([]DirEntry, error)

	// ReadRange reads length bytes starting at offset. A backend that
	// lacks RangedRead and is asked for anything but offset==0 returns
	// KindUnsupported.
	ReadRange(ctx context.Context, path string, offset, length uint64) ([]byte, error)

	// Write performs a one-shot unconditional write of the full object
	// contents, used by backends that have no cheaper append path.
	Write(ctx context.Context, path string, data []byte) error

	// Writer opens an append-only writer positioned at startOffset
	// (0 for truncate/create, current length for append). Errors with
	// KindUnsupported if Capabilities().Write is false, or if
	// startOffset != 0 and Capabilities().Append is false.
	Writer(ctx context.Context, path string, startOffset uint64) (Writer, error)

	// CreateDir ensures a directory marker exists at dirPath (which
	// must end in "/"). Errors with KindUnsupported if
	// Capabilities().CreateDir is false.
	CreateDir(ctx context.Context, dirPath string) error

	// Delete removes the object or directory marker at path.
	Delete(ctx context.Context, path string) error
}
