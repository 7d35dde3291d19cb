package storage

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalFS(t *testing.T) {
	root := t.TempDir()
	fsys := NewLocalFS()
	path := filepath.Join(root, "job", "segments", "segment_000001.ts")

	exists, err := fsys.Exists(path)
	if err != nil || exists {
		t.Fatalf("expected missing file, got exists=%v err=%v", exists, err)
	}

	data := []byte{0x47, 0x00, 0xff, 0x10, 0x00}
	if err := fsys.WriteFile(path, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	exists, err = fsys.Exists(path)
	if err != nil || !exists {
		t.Fatalf("expected file to exist, got exists=%v err=%v", exists, err)
	}

	got, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %v, got %v", data, got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected temp files to be cleaned up, found %d entries", len(entries))
	}

	if err := fsys.MkdirAll(filepath.Join(root, "a", "b")); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err = fsys.ReadFile(filepath.Join(root, "missing"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}

	if err := fsys.RemoveAll(filepath.Join(root, "job")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if exists, _ := fsys.Exists(path); exists {
		t.Error("expected job dir to be removed")
	}
	if err := fsys.RemoveAll(filepath.Join(root, "job")); err != nil {
		t.Errorf("removing a missing dir should succeed, got %v", err)
	}
}
