package compare

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRow(t *testing.T, dir, name, row string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(row+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestExecute(t *testing.T) {
	dir := t.TempDir()
	a := writeRow(t, dir, "a.csv", "0,0,1,1,2")
	renamed := writeRow(t, dir, "b.csv", "2,2,0,0,1")
	merged := writeRow(t, dir, "c.csv", "0,0,0,1,2")

	tests := []struct {
		name string
		b    string
		want bool
		out  string
	}{
		{"same file", a, true, "equivalent"},
		{"labels renamed", renamed, true, "equivalent"},
		{"clusters merged", merged, false, "different"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			same, err := Execute(context.Background(), []string{a, tt.b}, &stdout, io.Discard)
			if err != nil {
				t.Fatalf("Execute() returned error: %v", err)
			}
			if same != tt.want {
				t.Errorf("Execute() = %v, want %v", same, tt.want)
			}
			if strings.TrimSpace(stdout.String()) != tt.out {
				t.Errorf("output = %q, want %q", stdout.String(), tt.out)
			}
		})
	}
}

func TestExecuteQuiet(t *testing.T) {
	dir := t.TempDir()
	a := writeRow(t, dir, "a.csv", "0,1")
	var stdout bytes.Buffer
	same, err := Execute(context.Background(), []string{"--quiet", a, a}, &stdout, io.Discard)
	if err != nil || !same {
		t.Fatalf("Execute() = %v, %v", same, err)
	}
	if stdout.Len() != 0 {
		t.Errorf("quiet output = %q", stdout.String())
	}
}

func TestExecuteErrors(t *testing.T) {
	dir := t.TempDir()
	a := writeRow(t, dir, "a.csv", "0,1")

	if _, err := Execute(context.Background(), []string{a}, io.Discard, io.Discard); err == nil {
		t.Error("expected error for one argument")
	}
	if _, err := Execute(context.Background(), []string{a, filepath.Join(dir, "missing.csv")}, io.Discard, io.Discard); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Execute(context.Background(), []string{a, "s3://bucket-only"}, io.Discard, io.Discard); err == nil {
		t.Error("expected error for malformed s3 location")
	}
}
