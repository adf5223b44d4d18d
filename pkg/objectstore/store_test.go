package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vexsearch/kmeans/internal/metrics"
)

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestDirStore(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create dir store: %v", err)
	}
	runStoreTests(t, store)
}

func TestInstrumentedStore(t *testing.T) {
	runStoreTests(t, NewInstrumentedStore(NewMemoryStore()))

	if got := testutil.ToFloat64(metrics.ObjectStoreOps.WithLabelValues("put", "success")); got == 0 {
		t.Error("expected successful puts to be counted")
	}
	if got := testutil.ToFloat64(metrics.ObjectStoreOps.WithLabelValues("get", "error")); got == 0 {
		t.Error("expected the missing-key get to be counted as an error")
	}
}

func runStoreTests(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("basic CRUD", func(t *testing.T) {
		testBasicCRUD(t, ctx, store)
	})
	t.Run("overwrite", func(t *testing.T) {
		testOverwrite(t, ctx, store)
	})
	t.Run("missing keys", func(t *testing.T) {
		testMissingKeys(t, ctx, store)
	})
}

func testBasicCRUD(t *testing.T, ctx context.Context, store Store) {
	key := "runs/blobs/assignment.csv"
	content := []byte("0,0,1,1\n")

	info, err := store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if info.ETag == "" {
		t.Error("ETag should not be empty")
	}
	if info.ContentType != "text/csv" {
		t.Errorf("content type = %q, want text/csv", info.ContentType)
	}

	head, err := store.Head(ctx, key)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head.Size != int64(len(content)) {
		t.Errorf("size mismatch: got %d, want %d", head.Size, len(content))
	}

	rc, got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(data, content) {
		t.Errorf("content mismatch: got %q, want %q", data, content)
	}
	if got.Key != key {
		t.Errorf("key = %q, want %q", got.Key, key)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Head(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Head after delete: got %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func testOverwrite(t *testing.T, ctx context.Context, store Store) {
	key := "points.csv"
	first, second := []byte("1,2\n"), []byte("3,4\n5,6\n")

	a, err := store.Put(ctx, key, bytes.NewReader(first), int64(len(first)), nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	b, err := store.Put(ctx, key, bytes.NewReader(second), int64(len(second)), &PutOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if a.ETag == b.ETag {
		t.Error("different contents share an ETag")
	}

	rc, _, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, second) {
		t.Errorf("read %q after overwrite, want %q", data, second)
	}
}

func testMissingKeys(t *testing.T, ctx context.Context, store Store) {
	if _, _, err := store.Get(ctx, "absent.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: got %v, want ErrNotFound", err)
	}
	if _, err := store.Head(ctx, "absent.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Head: got %v, want ErrNotFound", err)
	}
	if _, err := store.Put(ctx, "", bytes.NewReader(nil), 0, nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Put with empty key: got %v, want ErrInvalidKey", err)
	}
}

func TestDirStoreRejectsEscapingKeys(t *testing.T) {
	root := t.TempDir()
	store, err := NewDirStore(filepath.Join(root, "data"))
	if err != nil {
		t.Fatalf("failed to create dir store: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"../outside.csv", "/etc/passwd", "a/../../b"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), 1, nil); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q): got %v, want ErrInvalidKey", key, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "outside.csv")); !os.IsNotExist(err) {
		t.Error("a key escaped the store root")
	}
}

func TestDirStoreLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store, err := NewDirStore(root)
	if err != nil {
		t.Fatalf("failed to create dir store: %v", err)
	}
	if _, err := store.Put(context.Background(), "out/a.csv", bytes.NewReader([]byte("0\n")), 2, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "out"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.csv" {
		t.Errorf("directory holds %v, want only a.csv", entries)
	}
}
