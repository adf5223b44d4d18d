package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// MemoryStore keeps objects in a map. It backs tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject
}

type memoryObject struct {
	data         []byte
	etag         string
	lastModified time.Time
	contentType  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*memoryObject),
	}
}

func (o *memoryObject) info(key string) *ObjectInfo {
	return &ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         o.etag,
		LastModified: o.lastModified,
		ContentType:  o.contentType,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info(key), nil
}

func (s *MemoryStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return obj.info(key), nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	obj := &memoryObject{
		data:         data,
		etag:         contentETag(data),
		lastModified: time.Now(),
		contentType:  contentType(opts),
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()
	return obj.info(key), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
