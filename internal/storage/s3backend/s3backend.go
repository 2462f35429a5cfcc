// Package s3backend implements storageapi.Backend over an S3-compatible
// bucket, grounded on rclone's backend/s3 shape: prefix-delimited
// listing, ranged GetObject, unconditional PutObject, and a zero-byte
// key convention for directory markers.
package s3backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/objfuse/ovfs/internal/storageapi"
)

// Backend adapts an S3-compatible bucket to storageapi.Backend.
type Backend struct {
	client *s3.S3
	bucket string
}

// New builds a Backend bound to bucket, using sess (already configured
// with region, endpoint, and credentials — an rclone-style
// s3-compatible endpoint override is just a session.Config.Endpoint).
func New(sess *session.Session, bucket string) *Backend {
	return &Backend{client: s3.New(sess), bucket: bucket}
}

func (b *Backend) Capabilities() storageapi.Capabilities {
	return storageapi.Capabilities{
		Write:      true,
		Append:     false, // S3 PutObject has no append verb
		CreateDir:  true,
		List:       true,
		RangedRead: true,
	}
}

func (b *Backend) Stat(ctx context.Context, path string) (storageapi.ObjectInfo, error) {
	out, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return storageapi.ObjectInfo{}, translateErr("stat", path, err)
	}
	return storageapi.ObjectInfo{
		Path:  path,
		Size:  uint64(aws.Int64Value(out.ContentLength)),
		IsDir: strings.HasSuffix(path, "/"),
	}, nil
}

func (b *Backend) List(ctx context.Context, dirPath string) ([]storageapi.DirEntry, error) {
	var entries []storageapi.DirEntry
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(dirPath),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, p := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.StringValue(p.Prefix), dirPath), "/")
			entries = append(entries, storageapi.DirEntry{Name: name, IsDir: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), dirPath)
			if name == "" {
				continue
			}
			entries = append(entries, storageapi.DirEntry{Name: name, Size: uint64(aws.Int64Value(obj.Size))})
		}
		return true
	})
	if err != nil {
		return nil, translateErr("list", dirPath, err)
	}
	return entries, nil
}

func (b *Backend) ReadRange(ctx context.Context, path string, offset, length uint64) ([]byte, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, translateErr("read_range", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, translateErr("read_range", path, err)
	}
	return data, nil
}

func (b *Backend) Write(ctx context.Context, path string, data []byte) error {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return translateErr("write", path, err)
	}
	return nil
}

func (b *Backend) Writer(ctx context.Context, path string, startOffset uint64) (storageapi.Writer, error) {
	if startOffset != 0 {
		return nil, storageapi.NewError(storageapi.KindUnsupported, "writer", path, nil)
	}
	return &bufferedWriter{ctx: ctx, backend: b, path: path}, nil
}

func (b *Backend) CreateDir(ctx context.Context, dirPath string) error {
	if !strings.HasSuffix(dirPath, "/") {
		dirPath += "/"
	}
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(dirPath),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return translateErr("create_dir", dirPath, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return translateErr("delete", path, err)
	}
	return nil
}

// bufferedWriter accumulates bytes in memory and flushes a single
// PutObject on Close, since S3's API has no streaming-append primitive
// (mirrors rclone's buffer-then-PUT strategy for non-multipart uploads).
type bufferedWriter struct {
	ctx     context.Context
	backend *Backend
	path    string
	buf     bytes.Buffer
}

func (w *bufferedWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *bufferedWriter) Close() error {
	return w.backend.Write(w.ctx, w.path, w.buf.Bytes())
}

func translateErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return storageapi.NewError(storageapi.KindNotFound, op, path, err)
		case "AccessDenied":
			return storageapi.NewError(storageapi.KindPermissionDenied, op, path, err)
		case "InvalidRange":
			return storageapi.NewError(storageapi.KindRangeNotSatisfied, op, path, err)
		case "SlowDown", "TooManyRequests":
			return storageapi.NewError(storageapi.KindRateLimited, op, path, err)
		}
	}
	return storageapi.NewError(storageapi.KindOther, op, path, err)
}
