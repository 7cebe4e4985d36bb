package archive

import (
	"context"
	"errors"
	"testing"
)

func TestLocalFS_WriteRead(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	ctx := context.Background()

	if err := fs.Write(ctx, "batch/run.json", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := fs.Read(ctx, "batch/run.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("got %q", got)
	}
}

func TestLocalFS_ReadMissing(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	_, err := fs.Read(context.Background(), "nope.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalFS_PathStaysInBase(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewLocalFS(dir)
	ctx := context.Background()

	if err := fs.Write(ctx, "../../escape.json", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ok, _ := fs.Exists(ctx, "escape.json")
	if !ok {
		t.Error("expected traversal to be clamped into the base directory")
	}
}

func TestLocalFS_ExistsListDelete(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	fs.Write(ctx, "batch/2024/01/b.json", []byte("b"))
	fs.Write(ctx, "batch/2024/01/a.json", []byte("a"))
	fs.Write(ctx, "batch/2024/02/c.json", []byte("c"))

	paths, err := fs.List(ctx, "batch/2024/01")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 2 || paths[0] != "batch/2024/01/a.json" {
		t.Errorf("unexpected paths %v", paths)
	}

	empty, err := fs.List(ctx, "batch/1999")
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty list, got %v, %v", empty, err)
	}

	if err := fs.Delete(ctx, "batch/2024/01/a.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := fs.Exists(ctx, "batch/2024/01/a.json"); ok {
		t.Error("file should be deleted")
	}
	if err := fs.Delete(ctx, "batch/2024/01/a.json"); err != nil {
		t.Errorf("deleting a missing file: %v", err)
	}
}
