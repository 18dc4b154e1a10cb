package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// fakeFileInfo is an in-memory FileInfo used by fakeFS.
type fakeFileInfo struct {
	name      string
	size      int64
	mode      int
	modTime   time.Time
	isDir     bool
	isSymlink bool
}

func (f fakeFileInfo) Name() string         { return f.name }
func (f fakeFileInfo) Size() int64          { return f.size }
func (f fakeFileInfo) Mode() int            { return f.mode }
func (f fakeFileInfo) ModTime() time.Time   { return f.modTime }
func (f fakeFileInfo) IsDir() bool          { return f.isDir }
func (f fakeFileInfo) IsSymlink() bool      { return f.isSymlink }
func (f fakeFileInfo) IsRegular() bool      { return !f.isDir && !f.isSymlink }
func (f fakeFileInfo) Sys() interface{}     { return nil }

type fakeDirEntry struct {
	name  string
	isDir bool
}

func (e fakeDirEntry) Name() string { return e.name }
func (e fakeDirEntry) IsDir() bool  { return e.isDir }

// fakeNode is one entry of the in-memory filesystem.
type fakeNode struct {
	isDir        bool
	isSymlink    bool
	content      []byte
	symlinkTgt   string
	mode         int
	modTime      time.Time
	uid, gid     int
}

// fakeFS is a minimal in-memory FileSystemPort good enough to drive
// the planner/applier/verifier tests without touching a real disk.
type fakeFS struct {
	nodes map[string]*fakeNode
}

func newFakeFS() *fakeFS {
	return &fakeFS{nodes: map[string]*fakeNode{
		"": {isDir: true, mode: 0o755},
	}}
}

func (f *fakeFS) ensureParents(path string) {
	parts := strings.Split(path, "/")
	cur := ""
	for i := 0; i < len(parts)-1; i++ {
		if i == 0 {
			cur = parts[i]
		} else {
			cur = cur + "/" + parts[i]
		}
		if _, ok := f.nodes[cur]; !ok {
			f.nodes[cur] = &fakeNode{isDir: true, mode: 0o755}
		}
	}
}

func (f *fakeFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	n, ok := f.nodes[path]
	if !ok || n.isDir {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), n.content...), nil
}

func (f *fakeFS) WriteFile(ctx context.Context, path string, data []byte, perm int) error {
	f.ensureParents(path)
	f.nodes[path] = &fakeNode{content: append([]byte(nil), data...), mode: perm, modTime: time.Now()}
	return nil
}

func (f *fakeFS) AtomicWriteFile(ctx context.Context, path string, data []byte, perm int) error {
	return f.WriteFile(ctx, path, data, perm)
}

func (f *fakeFS) CreateDir(ctx context.Context, path string, perm int) error {
	f.ensureParents(path + "/x")
	if n, ok := f.nodes[path]; ok && !n.isDir {
		return fmt.Errorf("exists as file: %s", path)
	}
	f.nodes[path] = &fakeNode{isDir: true, mode: perm}
	return nil
}

func (f *fakeFS) RemoveAll(ctx context.Context, path string) error {
	for k := range f.nodes {
		if k == path || strings.HasPrefix(k, path+"/") {
			delete(f.nodes, k)
		}
	}
	return nil
}

func (f *fakeFS) Remove(ctx context.Context, path string) error {
	if _, ok := f.nodes[path]; !ok {
		return fs.ErrNotExist
	}
	delete(f.nodes, path)
	return nil
}

func (f *fakeFS) statInfo(path string) (FileInfo, error) {
	n, ok := f.nodes[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	base := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
	}
	return fakeFileInfo{
		name:      base,
		size:      int64(len(n.content)),
		mode:      n.mode,
		modTime:   n.modTime,
		isDir:     n.isDir,
		isSymlink: n.isSymlink,
	}, nil
}

func (f *fakeFS) Stat(ctx context.Context, path string) (FileInfo, error) {
	n, ok := f.nodes[path]
	if ok && n.isSymlink {
		return f.statInfo(f.resolveOnce(path))
	}
	return f.statInfo(path)
}

func (f *fakeFS) resolveOnce(path string) string {
	n := f.nodes[path]
	if n == nil || !n.isSymlink {
		return path
	}
	if strings.HasPrefix(n.symlinkTgt, "/") {
		return strings.TrimPrefix(n.symlinkTgt, "/")
	}
	dir := ""
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		dir = path[:idx]
	}
	if dir == "" {
		return n.symlinkTgt
	}
	return dir + "/" + n.symlinkTgt
}

func (f *fakeFS) Lstat(ctx context.Context, path string) (FileInfo, error) {
	return f.statInfo(path)
}

func (f *fakeFS) Walk(ctx context.Context, root string, walkFn WalkFunc) error {
	var keys []string
	for k := range f.nodes {
		if k == root || strings.HasPrefix(k, root+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		info, _ := f.statInfo(k)
		if err := walkFn(k, info, nil); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeFS) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	var entries []DirEntry
	prefix := path
	if prefix != "" {
		prefix += "/"
	}
	for k, n := range f.nodes {
		if k == path || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		entries = append(entries, fakeDirEntry{name: rest, isDir: n.isDir})
	}
	return entries, nil
}

func (f *fakeFS) Copy(ctx context.Context, src, dst string) error {
	n, ok := f.nodes[src]
	if !ok {
		return fs.ErrNotExist
	}
	cp := *n
	f.ensureParents(dst)
	f.nodes[dst] = &cp
	return nil
}

func (f *fakeFS) Readlink(ctx context.Context, path string) (string, error) {
	n, ok := f.nodes[path]
	if !ok || !n.isSymlink {
		return "", fmt.Errorf("not a symlink: %s", path)
	}
	return n.symlinkTgt, nil
}

func (f *fakeFS) Symlink(ctx context.Context, target, path string) error {
	f.ensureParents(path)
	f.nodes[path] = &fakeNode{isSymlink: true, symlinkTgt: target}
	return nil
}

func (f *fakeFS) Chmod(ctx context.Context, path string, perm int) error {
	if n, ok := f.nodes[path]; ok {
		n.mode = perm
	}
	return nil
}

func (f *fakeFS) Chtimes(ctx context.Context, path string, atime, mtime time.Time) error {
	if n, ok := f.nodes[path]; ok {
		n.modTime = mtime
	}
	return nil
}

func (f *fakeFS) Chown(ctx context.Context, path string, uid, gid int) error {
	if n, ok := f.nodes[path]; ok {
		n.uid, n.gid = uid, gid
	}
	return nil
}

func (f *fakeFS) Lchown(ctx context.Context, path string, uid, gid int) error {
	return f.Chown(ctx, path, uid, gid)
}

func (f *fakeFS) OwnerOf(info FileInfo) (int, int, bool) {
	return 0, 0, false
}

func (f *fakeFS) GetWorkingDir(ctx context.Context) (string, error) { return "/", nil }
func (f *fakeFS) Abs(ctx context.Context, path string) (string, error) {
	return "/" + path, nil
}
func (f *fakeFS) Join(elements ...string) string { return path.Join(elements...) }
func (f *fakeFS) Base(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
func (f *fakeFS) Dir(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[:idx]
	}
	return ""
}
func (f *fakeFS) Rel(basepath, targpath string) (string, error) {
	return strings.TrimPrefix(strings.TrimPrefix(targpath, basepath), "/"), nil
}
func (f *fakeFS) Clean(path string) string { return path }

func (f *fakeFS) IsNotExist(err error) bool  { return err == fs.ErrNotExist }
func (f *fakeFS) IsExist(err error) bool     { return false }
func (f *fakeFS) IsPermission(err error) bool { return false }

func (f *fakeFS) TempDir(ctx context.Context, dir, prefix string) (string, error) {
	return dir + "/" + prefix + "tmp", nil
}

// fakeBlob backs fakeRepo's committed trees.
type fakeBlob struct {
	kind   EntryKind
	mode   int
	data   []byte
	target string
}

// fakeRepo is a minimal RepoPort: one committed "tree" (a flat map of
// RP to blob), plus an independent index-status map the tests seed
// directly rather than modeling full git staging semantics.
type fakeRepo struct {
	trees    map[string]map[RP]fakeBlob
	statuses map[RP]IndexStatus
	staged   []RP
	commits  []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		trees:    map[string]map[RP]fakeBlob{},
		statuses: map[RP]IndexStatus{},
	}
}

func (r *fakeRepo) setTree(revisionID string, entries map[RP]fakeBlob) {
	r.trees[revisionID] = entries
}

func (r *fakeRepo) Init(ctx context.Context, gitDir, workTree string) error { return nil }
func (r *fakeRepo) Stage(ctx context.Context, path RP) error {
	r.staged = append(r.staged, path)
	r.statuses[path] = StatusAdded
	return nil
}
func (r *fakeRepo) Unstage(ctx context.Context, path RP, keepWorking bool) error {
	r.statuses[path] = StatusUntracked
	return nil
}
func (r *fakeRepo) Commit(ctx context.Context, message string) (string, error) {
	id := fmt.Sprintf("rev%d", len(r.commits)+1)
	r.commits = append(r.commits, id)
	return id, nil
}
func (r *fakeRepo) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "HEAD" && len(r.commits) > 0 {
		return r.commits[len(r.commits)-1], nil
	}
	return ref, nil
}
func (r *fakeRepo) WalkTree(ctx context.Context, revisionID string) (TreeIterator, error) {
	entries := r.trees[revisionID]
	var paths []RP
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return &fakeTreeIterator{entries: entries, paths: paths}, nil
}
func (r *fakeRepo) ReadBlob(ctx context.Context, blobID string) ([]byte, error) {
	for _, tree := range r.trees {
		for _, b := range tree {
			if blobID == blobKey(b) {
				return b.data, nil
			}
		}
	}
	return nil, fmt.Errorf("blob not found: %s", blobID)
}
func (r *fakeRepo) IndexStatus(ctx context.Context, path RP) (IndexStatus, error) {
	if s, ok := r.statuses[path]; ok {
		return s, nil
	}
	return StatusUntracked, nil
}
func (r *fakeRepo) SetExcludesFile(ctx context.Context, path string) error { return nil }

func blobKey(b fakeBlob) string {
	return fmt.Sprintf("blob:%x", bytes.TrimSpace(append([]byte(b.target), b.data...)))
}

type fakeTreeIterator struct {
	entries map[RP]fakeBlob
	paths   []RP
	idx     int
}

func (it *fakeTreeIterator) Next() (TreeEntry, bool, error) {
	if it.idx >= len(it.paths) {
		return TreeEntry{}, false, nil
	}
	p := it.paths[it.idx]
	it.idx++
	b := it.entries[p]
	return TreeEntry{
		Path:          p,
		Kind:          b.kind,
		Mode:          b.mode,
		BlobID:        blobKey(b),
		SymlinkTarget: b.target,
	}, true, nil
}

func (it *fakeTreeIterator) Close() error { return nil }

// fakeSecrets is an XOR "cipher" good enough to exercise the secrets
// engine's control flow without real cryptography.
type fakeSecrets struct{}

func (fakeSecrets) Encrypt(ctx context.Context, plaintext []byte, recipients []string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	return xorBytes(plaintext), nil
}

func (fakeSecrets) Decrypt(ctx context.Context, ciphertext []byte, identityFiles []string) ([]byte, error) {
	if len(identityFiles) == 0 {
		return nil, fmt.Errorf("no identities")
	}
	return xorBytes(ciphertext), nil
}

func xorBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c ^ 0x5a
	}
	return out
}

type fakeProcess struct {
	pid      int
	hostname string
	user     string
}

func (f fakeProcess) GetPID() int                  { return f.pid }
func (f fakeProcess) Hostname() (string, error)     { return f.hostname, nil }
func (f fakeProcess) CurrentUser() (string, error) { return f.user, nil }
