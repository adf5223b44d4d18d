package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirStore maps keys to files below a root directory. Writes go through a
// temporary file and a rename, so readers never see a partial object.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) path(key string) (string, error) {
	if key == "" || filepath.IsAbs(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *DirStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(p)
	if err != nil {
		return nil, nil, mapFSError(err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, fileInfo(key, stat), nil
}

func (s *DirStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(p)
	if err != nil {
		return nil, mapFSError(err)
	}
	return fileInfo(key, stat), nil
}

func (s *DirStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return nil, err
	}

	stat, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	info := fileInfo(key, stat)
	info.ETag = contentETag(data)
	info.ContentType = contentType(opts)
	return info, nil
}

func (s *DirStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func fileInfo(key string, stat fs.FileInfo) *ObjectInfo {
	return &ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
	}
}

func mapFSError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
