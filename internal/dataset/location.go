package dataset

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vexsearch/kmeans/internal/kmeans"
	"github.com/vexsearch/kmeans/pkg/objectstore"
)

const s3Scheme = "s3://"

// Location is an object in a store: a local file or an S3 object.
type Location struct {
	Store objectstore.Store
	Key   string
}

// Resolver turns location strings into Locations. Paths map to a directory
// store rooted at the file's directory; s3://bucket/key maps to an S3 store
// built from S3 with the bucket replaced.
type Resolver struct {
	S3 objectstore.S3Config
	// Instrument wraps every store with metrics.
	Instrument bool
}

// Resolve parses loc.
func (r Resolver) Resolve(loc string) (Location, error) {
	var (
		store objectstore.Store
		key   string
	)
	if rest, ok := strings.CutPrefix(loc, s3Scheme); ok {
		bucket, k, found := strings.Cut(rest, "/")
		if !found || bucket == "" || k == "" {
			return Location{}, fmt.Errorf("%w: %q is not s3://bucket/key", objectstore.ErrInvalidKey, loc)
		}
		cfg := r.S3
		cfg.Bucket = bucket
		s3, err := objectstore.NewS3Store(cfg)
		if err != nil {
			return Location{}, err
		}
		store, key = s3, k
	} else {
		if loc == "" {
			return Location{}, fmt.Errorf("%w: empty location", objectstore.ErrInvalidKey)
		}
		dir, err := objectstore.NewDirStore(filepath.Dir(loc))
		if err != nil {
			return Location{}, err
		}
		store, key = dir, filepath.Base(loc)
	}

	if r.Instrument {
		store = objectstore.NewInstrumentedStore(store)
	}
	return Location{Store: store, Key: key}, nil
}

// LoadPoints reads a point set from loc.
func LoadPoints(ctx context.Context, loc Location) (*kmeans.PointSet, error) {
	rc, _, err := loc.Store.Get(ctx, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", loc.Key, err)
	}
	defer rc.Close()
	points, err := ReadPoints(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc.Key, err)
	}
	return points, nil
}

// LoadAssignment reads an assignment from loc.
func LoadAssignment(ctx context.Context, loc Location) ([]uint16, error) {
	rc, _, err := loc.Store.Get(ctx, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", loc.Key, err)
	}
	defer rc.Close()
	assign, err := ReadAssignment(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc.Key, err)
	}
	return assign, nil
}

// SaveAssignment writes assign to loc.
func SaveAssignment(ctx context.Context, loc Location, assign []uint16) error {
	var buf bytes.Buffer
	if err := WriteAssignment(&buf, assign); err != nil {
		return err
	}
	if _, err := loc.Store.Put(ctx, loc.Key, &buf, int64(buf.Len()), &objectstore.PutOptions{ContentType: "text/csv"}); err != nil {
		return fmt.Errorf("write %s: %w", loc.Key, err)
	}
	return nil
}
