// Package filesystem implements usecase.FileSystemPort using the
// standard os and path/filepath packages.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/reidond/hometree/internal/usecase"
)

// Adapter implements usecase.FileSystemPort using standard os and
// filepath packages.
type Adapter struct {
	logger *slog.Logger
}

// New creates a new filesystem adapter.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		panic("filesystem adapter requires logger")
	}
	return &Adapter{logger: logger}
}

// ReadFile reads file content.
func (a *Adapter) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - paths are controlled by usecase
}

// WriteFile writes content to file.
func (a *Adapter) WriteFile(ctx context.Context, path string, data []byte, perm int) error {
	if perm < 0 || perm > 0o777 {
		perm = 0o644
	}
	// #nosec G115 - perm is validated to be within safe range
	return os.WriteFile(path, data, fs.FileMode(perm))
}

// AtomicWriteFile writes data to a sibling temp file in the same
// directory as path, then renames it into place, so a reader never
// observes a partially written file (spec §4.5/§5).
func (a *Adapter) AtomicWriteFile(ctx context.Context, path string, data []byte, perm int) error {
	if perm < 0 || perm > 0o777 {
		perm = 0o644
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	// #nosec G115 - perm is validated to be within safe range
	if err := os.Chmod(tmpName, fs.FileMode(perm)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// CreateDir creates directory with permissions.
func (a *Adapter) CreateDir(ctx context.Context, path string, perm int) error {
	if perm < 0 || perm > 0o777 {
		perm = 0o755
	}
	// #nosec G115 - perm is validated to be within safe range
	return os.MkdirAll(path, fs.FileMode(perm))
}

// RemoveAll removes directory and all contents.
func (a *Adapter) RemoveAll(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}

// Remove removes a single file or empty directory.
func (a *Adapter) Remove(ctx context.Context, path string) error {
	return os.Remove(path)
}

// Stat returns file info.
func (a *Adapter) Stat(ctx context.Context, path string) (usecase.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &fileInfoWrapper{info}, nil
}

// Lstat returns file info without following symlinks.
func (a *Adapter) Lstat(ctx context.Context, path string) (usecase.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	return &fileInfoWrapper{info}, nil
}

// Walk traverses directory tree.
func (a *Adapter) Walk(ctx context.Context, root string, walkFn usecase.WalkFunc) error {
	return filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		var fileInfo usecase.FileInfo
		if info != nil {
			fileInfo = &fileInfoWrapper{info}
		}
		return walkFn(path, fileInfo, err)
	})
}

// ReadDir lists directory entries.
func (a *Adapter) ReadDir(ctx context.Context, path string) ([]usecase.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	result := make([]usecase.DirEntry, 0, len(entries))
	for _, entry := range entries {
		result = append(result, &dirEntryWrapper{entry})
	}
	return result, nil
}

// Copy copies file from src to dst, preserving the source's mode bits.
func (a *Adapter) Copy(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}

	srcFile, err := os.Open(src) // #nosec G304 - paths are controlled by usecase
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.Create(dst) // #nosec G304 - paths are controlled by usecase
	if err != nil {
		return err
	}
	defer func() {
		_ = dstFile.Close()
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	return os.Chmod(dst, srcInfo.Mode())
}

// Readlink reads symlink target.
func (a *Adapter) Readlink(ctx context.Context, path string) (string, error) {
	return os.Readlink(path)
}

// Symlink creates symlink.
func (a *Adapter) Symlink(ctx context.Context, target, path string) error {
	return os.Symlink(target, path)
}

// Chmod changes file mode.
func (a *Adapter) Chmod(ctx context.Context, path string, perm int) error {
	if perm < 0 || perm > 0o777 {
		return fmt.Errorf("invalid permission bits: %o", perm)
	}
	return os.Chmod(path, fs.FileMode(perm))
}

// Chtimes changes access and modification times.
func (a *Adapter) Chtimes(ctx context.Context, path string, atime, mtime time.Time) error {
	return os.Chtimes(path, atime, mtime)
}

// Chown changes file ownership, following symlinks.
func (a *Adapter) Chown(ctx context.Context, path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}

// Lchown changes file ownership without following symlinks.
func (a *Adapter) Lchown(ctx context.Context, path string, uid, gid int) error {
	return os.Lchown(path, uid, gid)
}

// OwnerOf extracts uid/gid from a FileInfo previously returned by
// Stat/Lstat. Returns ok=false on platforms where Sys() does not
// expose a *syscall.Stat_t (e.g. non-POSIX); hometree targets POSIX
// hosts only (spec §1 Non-goals).
func (a *Adapter) OwnerOf(info usecase.FileInfo) (uid, gid int, ok bool) {
	sys := info.Sys()
	stat, isStat := sys.(*syscall.Stat_t)
	if !isStat {
		return 0, 0, false
	}
	return int(stat.Uid), int(stat.Gid), true
}

// GetWorkingDir returns current working directory.
func (a *Adapter) GetWorkingDir(ctx context.Context) (string, error) {
	return os.Getwd()
}

// Abs returns absolute path.
func (a *Adapter) Abs(ctx context.Context, path string) (string, error) {
	return filepath.Abs(path)
}

// Join joins path elements.
func (a *Adapter) Join(elements ...string) string {
	return filepath.Join(elements...)
}

// Base returns last element of path.
func (a *Adapter) Base(path string) string {
	return filepath.Base(path)
}

// Dir returns directory of path.
func (a *Adapter) Dir(path string) string {
	return filepath.Dir(path)
}

// Rel returns a relative path.
func (a *Adapter) Rel(basepath, targpath string) (string, error) {
	return filepath.Rel(basepath, targpath)
}

// Clean returns the cleaned path.
func (a *Adapter) Clean(path string) string {
	return filepath.Clean(path)
}

// IsNotExist reports whether err indicates that a path does not exist.
// Also covers syscall.ENOTDIR (path component is not a directory).
func (a *Adapter) IsNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR)
}

// IsExist reports whether err indicates that a path already exists.
func (a *Adapter) IsExist(err error) bool {
	return os.IsExist(err)
}

// IsPermission reports whether err indicates a permission error.
func (a *Adapter) IsPermission(err error) bool {
	return os.IsPermission(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM)
}

// TempDir creates temporary directory.
func (a *Adapter) TempDir(ctx context.Context, dir, prefix string) (string, error) {
	return os.MkdirTemp(dir, prefix)
}

// fileInfoWrapper wraps os.FileInfo to implement usecase.FileInfo.
type fileInfoWrapper struct {
	fs.FileInfo
}

func (w *fileInfoWrapper) Name() string { return w.FileInfo.Name() }

func (w *fileInfoWrapper) Size() int64 { return w.FileInfo.Size() }

func (w *fileInfoWrapper) Mode() int { return int(w.FileInfo.Mode()) }

func (w *fileInfoWrapper) ModTime() time.Time { return w.FileInfo.ModTime() }

func (w *fileInfoWrapper) IsDir() bool { return w.FileInfo.IsDir() }

func (w *fileInfoWrapper) IsSymlink() bool { return w.FileInfo.Mode()&os.ModeSymlink != 0 }

func (w *fileInfoWrapper) IsRegular() bool { return w.FileInfo.Mode().IsRegular() }

func (w *fileInfoWrapper) Sys() interface{} { return w.FileInfo.Sys() }

type dirEntryWrapper struct {
	fs.DirEntry
}

func (w *dirEntryWrapper) Name() string { return w.DirEntry.Name() }

func (w *dirEntryWrapper) IsDir() bool { return w.DirEntry.IsDir() }
