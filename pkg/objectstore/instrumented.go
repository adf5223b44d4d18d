package objectstore

import (
	"context"
	"io"
	"time"

	"github.com/vexsearch/kmeans/internal/metrics"
)

// InstrumentedStore wraps a Store with Prometheus metrics.
type InstrumentedStore struct {
	inner Store
}

func NewInstrumentedStore(inner Store) *InstrumentedStore {
	return &InstrumentedStore{inner: inner}
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	start := time.Now()
	reader, info, err := s.inner.Get(ctx, key)
	metrics.ObserveObjectStoreOp("get", time.Since(start).Seconds(), err)
	return reader, info, err
}

func (s *InstrumentedStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Head(ctx, key)
	metrics.ObserveObjectStoreOp("head", time.Since(start).Seconds(), err)
	return info, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Put(ctx, key, body, size, opts)
	metrics.ObserveObjectStoreOp("put", time.Since(start).Seconds(), err)
	return info, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	metrics.ObserveObjectStoreOp("delete", time.Since(start).Seconds(), err)
	return err
}
