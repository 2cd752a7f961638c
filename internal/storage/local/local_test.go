package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "mirror")
	b, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, root
}

func TestNew_CreatesRoot(t *testing.T) {
	_, root := newTestBackend(t)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
}

func TestNew_RootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(file); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestMkdirAll_Idempotent(t *testing.T) {
	b, root := newTestBackend(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.MkdirAll(ctx, "a/b/c"); err != nil {
			t.Fatalf("MkdirAll #%d: %v", i, err)
		}
	}
	if info, err := os.Stat(filepath.Join(root, "a", "b", "c")); err != nil || !info.IsDir() {
		t.Errorf("directory missing: %v", err)
	}
	if err := b.MkdirAll(ctx, ""); err != nil {
		t.Errorf("MkdirAll(root): %v", err)
	}
}

func TestCreate_CommitPublishes(t *testing.T) {
	b, root := newTestBackend(t)
	ctx := context.Background()

	w, err := b.Create(ctx, "hello.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}

	if ok, _ := b.Exists(ctx, "hello.txt"); ok {
		t.Error("object visible before commit")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Errorf("Abort after Commit: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("content = %q", data)
	}
	assertNoTemps(t, root)
}

func TestCreate_AbortLeavesNothing(t *testing.T) {
	b, root := newTestBackend(t)
	ctx := context.Background()

	w, err := b.Create(ctx, "partial.bin")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("half"))
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if ok, _ := b.Exists(ctx, "partial.bin"); ok {
		t.Error("aborted object exists")
	}
	if err := w.Commit(); err == nil {
		t.Error("Commit after Abort should fail")
	}
	assertNoTemps(t, root)
}

func TestCreate_MissingDirectory(t *testing.T) {
	b, _ := newTestBackend(t)
	if _, err := b.Create(context.Background(), "nope/file"); err == nil {
		t.Error("expected error when parent directory is missing")
	}
}

func TestCopy(t *testing.T) {
	b, root := newTestBackend(t)
	ctx := context.Background()

	if err := b.MkdirAll(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := b.MkdirAll(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a", "x"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := b.Copy(ctx, "a/x", "b/x"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "b", "x"))
	if err != nil || string(data) != "payload" {
		t.Errorf("copied = %q, %v", data, err)
	}

	if err := b.Copy(ctx, "a/missing", "b/missing"); err == nil {
		t.Error("expected error copying a missing source")
	}
	assertNoTemps(t, filepath.Join(root, "b"))
}

func TestExists(t *testing.T) {
	b, root := newTestBackend(t)
	ctx := context.Background()

	if ok, err := b.Exists(ctx, "x"); ok || err != nil {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
	os.WriteFile(filepath.Join(root, "x"), nil, 0o644)
	if ok, err := b.Exists(ctx, "x"); !ok || err != nil {
		t.Errorf("Exists(x) = %v, %v", ok, err)
	}
}

func TestLocationAndType(t *testing.T) {
	b, root := newTestBackend(t)
	if got := b.Location("a/b"); got != filepath.Join(root, "a", "b") {
		t.Errorf("Location = %q", got)
	}
	if b.Type() != "local" {
		t.Errorf("Type = %q", b.Type())
	}
}

func assertNoTemps(t *testing.T, dir string) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(dir, ".dumpftp-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}
