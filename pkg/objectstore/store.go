// Package objectstore reads and writes whole objects addressed by key, on a
// local directory, in memory, or in an S3 bucket.
package objectstore

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

type PutOptions struct {
	ContentType string
}

type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// contentETag derives the entity tag of local objects from their bytes.
func contentETag(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

func contentType(opts *PutOptions) string {
	if opts == nil || opts.ContentType == "" {
		return "text/csv"
	}
	return opts.ContentType
}
