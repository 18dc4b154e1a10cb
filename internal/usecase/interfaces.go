package usecase

import (
	"context"
	"time"
)

// Dependencies bundles the ports the core operations need (hexagonal
// architecture, following the teacher's Dependencies struct shape).
type Dependencies struct {
	FileSystem FileSystemPort
	Repo       RepoPort
	Lock       LockPort
	Secrets    SecretsPort
	Process    ProcessPort
	Config     ConfigPort
	// Notify is best-effort desktop notification on deploy/rollback
	// completion and watcher auto-add; nil is a valid value (no-op).
	Notify NotificationPort
}

// Ports define the interfaces that use cases need (hexagonal architecture).

// FileSystemPort defines filesystem operations needed by use cases (C1 + C7).
type FileSystemPort interface {
	// Core file operations
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte, perm int) error
	// AtomicWriteFile writes data to a sibling temp file and renames it
	// into place, as required by spec §4.5/§5 ("all file writes use
	// temp-file + rename").
	AtomicWriteFile(ctx context.Context, path string, data []byte, perm int) error
	CreateDir(ctx context.Context, path string, perm int) error
	RemoveAll(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
	Stat(ctx context.Context, path string) (FileInfo, error)
	Lstat(ctx context.Context, path string) (FileInfo, error)

	// Directory operations
	Walk(ctx context.Context, root string, walkFn WalkFunc) error
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)

	// File operations
	Copy(ctx context.Context, src, dst string) error
	Readlink(ctx context.Context, path string) (string, error)
	Symlink(ctx context.Context, target, path string) error
	Chmod(ctx context.Context, path string, perm int) error
	Chtimes(ctx context.Context, path string, atime, mtime time.Time) error
	// Chown/Lchown restore ownership best-effort (spec §4.5, "Metadata
	// preservation"); Lchown must not follow a symlink.
	Chown(ctx context.Context, path string, uid, gid int) error
	Lchown(ctx context.Context, path string, uid, gid int) error
	// OwnerOf extracts uid/gid from a FileInfo previously returned by
	// Stat/Lstat, returning ok=false on platforms without that concept.
	OwnerOf(info FileInfo) (uid, gid int, ok bool)

	// Path operations
	GetWorkingDir(ctx context.Context) (string, error)
	Abs(ctx context.Context, path string) (string, error)
	Join(elements ...string) string
	Base(path string) string
	Dir(path string) string
	Rel(basepath, targpath string) (string, error)
	Clean(path string) string

	// Error classification
	IsNotExist(err error) bool
	IsExist(err error) bool
	IsPermission(err error) bool

	// Temp operations
	TempDir(ctx context.Context, dir, prefix string) (string, error)
}

// TreeIterator is a lazy finite sequence over a committed tree (spec §9,
// "Iterators over trees" — implementations must not materialize the
// entire tree in memory for a large revision).
type TreeIterator interface {
	// Next returns the next entry. ok is false once the sequence is
	// exhausted; a non-nil error aborts iteration.
	Next() (entry TreeEntry, ok bool, err error)
	Close() error
}

// RepoPort abstracts the content-addressed tree/commit store (C4). The
// core never parses on-disk object formats itself; it only consumes
// this port (spec §4.2).
type RepoPort interface {
	// Init creates an empty bare-backed repository; the excludes file is
	// wired separately through SetExcludesFile.
	Init(ctx context.Context, gitDir, workTree string) error
	Stage(ctx context.Context, path RP) error
	Unstage(ctx context.Context, path RP, keepWorking bool) error
	Commit(ctx context.Context, message string) (revisionID string, err error)
	// Resolve turns a ref (HEAD, a symbolic name, HEAD~N, or a full
	// revision id) into a concrete revision id.
	Resolve(ctx context.Context, ref string) (string, error)
	WalkTree(ctx context.Context, revisionID string) (TreeIterator, error)
	ReadBlob(ctx context.Context, blobID string) ([]byte, error)
	IndexStatus(ctx context.Context, path RP) (IndexStatus, error)
	SetExcludesFile(ctx context.Context, path string) error
}

// LockPort defines the advisory repository lock (spec §5): the
// repository is accessed by exactly one operation at a time.
type LockPort interface {
	// TryLock attempts to acquire the lock without blocking. ok is false
	// (with a nil error) when another holder has it.
	TryLock(ctx context.Context, path string) (ok bool, err error)
	Unlock(ctx context.Context, path string) error
}

// SecretsPort is the raw age cryptography operation the secrets engine
// composes into encrypt/decrypt/refresh/rekey/status (C5).
type SecretsPort interface {
	Encrypt(ctx context.Context, plaintext []byte, recipients []string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte, identityFiles []string) ([]byte, error)
}

// ProcessPort defines process/host information needed by use cases.
type ProcessPort interface {
	GetPID() int
	Hostname() (string, error)
	CurrentUser() (string, error)
}

// NotificationPort sends a best-effort desktop notification. It is
// consulted after a deploy/rollback completes and when the watcher
// auto-adds a new path; failures are never fatal (spec §7, watcher
// errors never abort the loop).
type NotificationPort interface {
	Send(ctx context.Context, title, message, sound string) error
}

// ConfigPort defines configuration load/save operations.
type ConfigPort interface {
	Load(ctx context.Context, path string) (ConfigFile, error)
	Save(ctx context.Context, path string, cfg ConfigFile) error
}
