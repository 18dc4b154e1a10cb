// Package gitrepo implements usecase.RepoPort over the system git
// binary, the way internal/adapters/git shelled out for the backup
// engine's repository operations. The backing store is a normal (not
// --bare) repository whose metadata directory lives outside the home
// directory, with core.worktree pointed at the home directory itself
// (spec §4.2, component C4: "a bare git-like repository as backing
// store").
package gitrepo

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/reidond/hometree/internal/usecase"
)

// Adapter implements usecase.RepoPort using the git CLI.
type Adapter struct {
	logger   *slog.Logger
	gitDir   string
	workTree string
}

// New creates a gitrepo adapter bound to an existing git_dir/work_tree
// pair (as loaded from config). Init may still be called to create the
// backing store on first run.
func New(logger *slog.Logger, gitDir, workTree string) *Adapter {
	if logger == nil {
		panic("gitrepo adapter requires logger")
	}
	return &Adapter{logger: logger, gitDir: gitDir, workTree: workTree}
}

// Init creates the backing store if it does not already exist and
// configures it for hometree's usage (no untracked-file scanning,
// since the classifier - not git - owns scope decisions).
func (a *Adapter) Init(ctx context.Context, gitDir, workTree string) error {
	a.gitDir = gitDir
	a.workTree = workTree

	cmd := exec.CommandContext(ctx, "git", "--git-dir="+gitDir, "--work-tree="+workTree, "init")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git init: %w: %s", err, out)
	}

	if err := a.gitConfigSet(ctx, "status.showUntrackedFiles", "no"); err != nil {
		return err
	}
	if err := a.gitConfigSet(ctx, "core.bare", "false"); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) gitConfigSet(ctx context.Context, key, value string) error {
	cmd := a.cmd(ctx, "config", key, value)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git config %s: %w: %s", key, err, out)
	}
	return nil
}

func (a *Adapter) cmd(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"--git-dir=" + a.gitDir, "--work-tree=" + a.workTree}, args...)
	return exec.CommandContext(ctx, "git", full...)
}

// Stage runs `git add` for path.
func (a *Adapter) Stage(ctx context.Context, path usecase.RP) error {
	cmd := a.cmd(ctx, "add", "--", string(path))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add %s: %w: %s", path, err, out)
	}
	return nil
}

// Unstage removes path from the index. When keepWorking is true the
// working-tree copy is left untouched (`git reset`); otherwise only
// the cached entry is dropped (`git rm --cached`), leaving the caller
// free to remove the file itself.
func (a *Adapter) Unstage(ctx context.Context, path usecase.RP, keepWorking bool) error {
	var cmd *exec.Cmd
	if keepWorking {
		cmd = a.cmd(ctx, "reset", "--", string(path))
	} else {
		cmd = a.cmd(ctx, "rm", "--cached", "--", string(path))
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git unstage %s: %w: %s", path, err, out)
	}
	return nil
}

// Commit commits the current index, allowing empty commits so a
// snapshot always produces a new revision even when nothing changed.
func (a *Adapter) Commit(ctx context.Context, message string) (string, error) {
	cmd := a.cmd(ctx,
		"-c", "user.email=hometree@localhost",
		"-c", "user.name=hometree",
		"commit", "--allow-empty", "-m", message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git commit: %w: %s", err, out)
	}
	return a.Resolve(ctx, "HEAD")
}

// Resolve turns ref into a concrete revision id.
func (a *Adapter) Resolve(ctx context.Context, ref string) (string, error) {
	cmd := a.cmd(ctx, "rev-parse", ref)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w", ref, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ReadBlob returns a blob's raw content.
func (a *Adapter) ReadBlob(ctx context.Context, blobID string) ([]byte, error) {
	cmd := a.cmd(ctx, "cat-file", "-p", blobID)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git cat-file %s: %w", blobID, err)
	}
	return out, nil
}

// SetExcludesFile points core.excludesFile at path.
func (a *Adapter) SetExcludesFile(ctx context.Context, path string) error {
	return a.gitConfigSet(ctx, "core.excludesFile", path)
}

// IndexStatus reports path's position relative to HEAD and the index
// (spec §4.2, "index status").
func (a *Adapter) IndexStatus(ctx context.Context, path usecase.RP) (usecase.IndexStatus, error) {
	cmd := a.cmd(ctx, "status", "--porcelain=v1", "--ignored", "--untracked-files=all", "--", string(path))
	out, err := cmd.Output()
	if err != nil {
		return usecase.StatusUnchanged, fmt.Errorf("git status %s: %w", path, err)
	}
	line := strings.TrimRight(string(out), "\n")
	if line == "" {
		return usecase.StatusUnchanged, nil
	}
	if len(line) < 2 {
		return usecase.StatusModified, nil
	}
	return parseStatusCode(line[:2]), nil
}

func parseStatusCode(code string) usecase.IndexStatus {
	switch {
	case code == "??":
		return usecase.StatusUntracked
	case code == "!!":
		return usecase.StatusIgnored
	case strings.Contains(code, "U") || code == "AA" || code == "DD":
		return usecase.StatusConflicted
	case code[0] == 'A' || code[1] == 'A':
		return usecase.StatusAdded
	case code[0] == 'D' || code[1] == 'D':
		return usecase.StatusDeleted
	default:
		return usecase.StatusModified
	}
}

// WalkTree lists revisionID's full tree lazily, streaming ls-tree's
// NUL-delimited output rather than materializing it (spec §4.2 forbids
// loading the whole tree into memory for large revisions).
func (a *Adapter) WalkTree(ctx context.Context, revisionID string) (usecase.TreeIterator, error) {
	cmd := a.cmd(ctx, "ls-tree", "-r", "-z", "--full-tree", revisionID)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("git ls-tree %s: %w", revisionID, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	scanner.Split(splitNUL)

	return &treeIterator{adapter: a, ctx: ctx, cmd: cmd, stdout: stdout, scanner: scanner, stderr: &stderr}, nil
}

func splitNUL(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type treeIterator struct {
	adapter *Adapter
	ctx     context.Context
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	stderr  *bytes.Buffer
}

// Next parses one "<mode> <type> <sha>\t<path>" record, resolving
// symlink targets inline since the planner/classifier need them
// without a second pass over the tree.
func (it *treeIterator) Next() (usecase.TreeEntry, bool, error) {
	if !it.scanner.Scan() {
		if err := it.scanner.Err(); err != nil {
			return usecase.TreeEntry{}, false, err
		}
		return usecase.TreeEntry{}, false, nil
	}

	line := it.scanner.Text()
	tab := strings.IndexByte(line, '\t')
	if tab < 0 {
		return usecase.TreeEntry{}, false, fmt.Errorf("gitrepo: malformed ls-tree record %q", line)
	}
	meta := strings.Fields(line[:tab])
	path := line[tab+1:]
	if len(meta) < 3 {
		return usecase.TreeEntry{}, false, fmt.Errorf("gitrepo: malformed ls-tree metadata %q", line[:tab])
	}
	mode, _ := strconv.ParseInt(meta[0], 8, 32)
	blobID := meta[2]

	kind := entryKindFromGitMode(meta[0])
	entry := usecase.TreeEntry{
		Path:   usecase.RP(path),
		Kind:   kind,
		Mode:   int(mode),
		BlobID: blobID,
	}
	if kind == usecase.KindSymlink {
		target, err := it.adapter.ReadBlob(it.ctx, blobID)
		if err != nil {
			return usecase.TreeEntry{}, false, err
		}
		entry.SymlinkTarget = string(target)
	}
	return entry, true, nil
}

// Close drains stdout and waits for the ls-tree process to exit.
func (it *treeIterator) Close() error {
	_, _ = io.Copy(io.Discard, it.stdout)
	if err := it.cmd.Wait(); err != nil {
		return fmt.Errorf("git ls-tree: %w: %s", err, it.stderr.String())
	}
	return nil
}

func entryKindFromGitMode(mode string) usecase.EntryKind {
	switch mode {
	case "120000":
		return usecase.KindSymlink
	case "100755":
		return usecase.KindExecutable
	case "040000", "040755":
		return usecase.KindDirectory
	default:
		return usecase.KindRegular
	}
}
