// Package gcsbackend implements storageapi.Backend over a Google Cloud
// Storage bucket, grounded on gcsfuse's gcs.Bucket/gcs.Conn connection
// shape (gcs/bucket.go, gcs/conn.go) and the stat/list/read/write calls
// fs/inode/dir.go and gcsproxy/listing_proxy.go make against a bucket,
// adapted here onto the modern cloud.google.com/go/storage client.
package gcsbackend

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/objfuse/ovfs/internal/storageapi"
)

// Backend adapts a GCS bucket handle to storageapi.Backend.
type Backend struct {
	bucket *storage.BucketHandle
	name   string
}

// New binds a Backend to bucketName on an already-opened client.
func New(client *storage.Client, bucketName string) *Backend {
	return &Backend{bucket: client.Bucket(bucketName), name: bucketName}
}

func (b *Backend) Capabilities() storageapi.Capabilities {
	return storageapi.Capabilities{
		Write:      true,
		Append:     false, // GCS objects are immutable; append emulated by rewrite is not offered
		CreateDir:  true,
		List:       true,
		RangedRead: true,
	}
}

func (b *Backend) Stat(ctx context.Context, path string) (storageapi.ObjectInfo, error) {
	attrs, err := b.bucket.Object(path).Attrs(ctx)
	if err != nil {
		return storageapi.ObjectInfo{}, translateErr("stat", path, err)
	}
	return storageapi.ObjectInfo{
		Path:  path,
		Size:  uint64(attrs.Size),
		IsDir: strings.HasSuffix(path, "/"),
	}, nil
}

func (b *Backend) List(ctx context.Context, dirPath string) ([]storageapi.DirEntry, error) {
	it := b.bucket.Objects(ctx, &storage.Query{
		Prefix:    dirPath,
		Delimiter: "/",
	})

	var entries []storageapi.DirEntry
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, translateErr("list", dirPath, err)
		}
		if attrs.Prefix != "" {
			name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, dirPath), "/")
			entries = append(entries, storageapi.DirEntry{Name: name, IsDir: true})
			continue
		}
		name := strings.TrimPrefix(attrs.Name, dirPath)
		if name == "" {
			continue // the directory placeholder object itself
		}
		entries = append(entries, storageapi.DirEntry{Name: name, IsDir: false, Size: uint64(attrs.Size)})
	}
	return entries, nil
}

func (b *Backend) ReadRange(ctx context.Context, path string, offset, length uint64) ([]byte, error) {
	r, err := b.bucket.Object(path).NewRangeReader(ctx, int64(offset), int64(length))
	if err != nil {
		return nil, translateErr("read_range", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, translateErr("read_range", path, err)
	}
	return data, nil
}

func (b *Backend) Write(ctx context.Context, path string, data []byte) error {
	w := b.bucket.Object(path).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return translateErr("write", path, err)
	}
	if err := w.Close(); err != nil {
		return translateErr("write", path, err)
	}
	return nil
}

func (b *Backend) Writer(ctx context.Context, path string, startOffset uint64) (storageapi.Writer, error) {
	if startOffset != 0 {
		return nil, storageapi.NewError(storageapi.KindUnsupported, "writer", path, nil)
	}
	return &objectWriter{w: b.bucket.Object(path).NewWriter(ctx)}, nil
}

func (b *Backend) CreateDir(ctx context.Context, dirPath string) error {
	if !strings.HasSuffix(dirPath, "/") {
		dirPath += "/"
	}
	w := b.bucket.Object(dirPath).NewWriter(ctx)
	if err := w.Close(); err != nil {
		return translateErr("create_dir", dirPath, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := b.bucket.Object(path).Delete(ctx); err != nil {
		return translateErr("delete", path, err)
	}
	return nil
}

type objectWriter struct {
	w *storage.Writer
}

func (o *objectWriter) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	if err != nil {
		return n, translateErr("write", o.w.ObjectAttrs.Name, err)
	}
	return n, nil
}

func (o *objectWriter) Close() error {
	if err := o.w.Close(); err != nil {
		return translateErr("write", o.w.ObjectAttrs.Name, err)
	}
	return nil
}

func translateErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return storageapi.NewError(storageapi.KindNotFound, op, path, err)
	}
	return storageapi.NewError(storageapi.KindOther, op, path, err)
}
