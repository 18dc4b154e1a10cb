package filesystem

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	ctx := context.Background()
	adapter := New(slog.Default())
	root := t.TempDir()
	path := filepath.Join(root, "target.txt")

	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if err := adapter.AtomicWriteFile(ctx, path, []byte("new"), 0o600); err != nil {
		t.Fatalf("expected atomic write to succeed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "new" {
		t.Fatalf("expected content %q, got %q", "new", data)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, found %d entries", len(entries))
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("expected mode 0600, got %o", info.Mode().Perm())
		}
	}
}

func TestAtomicWriteFile_InvalidPerm(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not reliable on windows")
	}
	ctx := context.Background()
	adapter := New(slog.Default())
	root := t.TempDir()
	path := filepath.Join(root, "target.txt")

	if err := adapter.AtomicWriteFile(ctx, path, []byte("x"), -1); err != nil {
		t.Fatalf("expected write to succeed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("expected default mode 0644, got %o", info.Mode().Perm())
	}
}

func TestOwnerOf(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("ownership is a POSIX concept")
	}
	ctx := context.Background()
	adapter := New(slog.Default())
	root := t.TempDir()
	path := filepath.Join(root, "owned.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	info, err := adapter.Lstat(ctx, path)
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	uid, gid, ok := adapter.OwnerOf(info)
	if !ok {
		t.Fatal("expected OwnerOf to report ok on a POSIX host")
	}
	if uid < 0 || gid < 0 {
		t.Fatalf("expected non-negative uid/gid, got %d/%d", uid, gid)
	}
}

func TestIsNotExist(t *testing.T) {
	adapter := New(slog.Default())
	_, err := os.Stat(filepath.Join(t.TempDir(), "missing"))
	if !adapter.IsNotExist(err) {
		t.Fatal("expected IsNotExist to report true for a missing path")
	}
	if adapter.IsNotExist(nil) {
		t.Fatal("expected IsNotExist to report false for a nil error")
	}
	if !adapter.IsNotExist(syscall.ENOTDIR) {
		t.Fatal("expected IsNotExist to cover ENOTDIR")
	}
}
