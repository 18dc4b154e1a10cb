// Package watcher drives usecase.Watcher from real filesystem events
// via github.com/fsnotify/fsnotify, the way cmd/cie/watch.go in the
// pack pairs an fsnotify.Watcher with a debounce timer around a
// reindex call. Here the debounce lives in usecase.Watcher itself;
// this adapter only forwards raw events and ticks Flush.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reidond/hometree/internal/usecase"
)

// TickInterval is how often the adapter checks for debounced paths
// whose window has elapsed, independent of new filesystem activity.
const TickInterval = 100 * time.Millisecond

// Job is one IPC request submitted to the watcher's single-threaded
// loop (spec §5, "Suspension points": IPC request reads are one of
// the loop's suspension points, serialized with the other three).
type Job struct {
	Request  usecase.IPCRequest
	Response chan usecase.IPCResponse
}

// Adapter registers fsnotify watches on usecase.WatchRoots and feeds
// events into a usecase.Watcher.
type Adapter struct {
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	core     *usecase.Watcher
	workTree string
	jobs     chan Job
	lock     usecase.LockPort
	lockPath string
}

// New creates a watcher adapter, registering one fsnotify watch per
// concrete root/extra-file directory (spec §4.8: "no recursive
// full-home scan ever occurs"). lock/lockPath are the same repository
// advisory lock one-shot commands take via withRepoLock (spec §5:
// "The watcher acquires and releases it per staging batch"); lock may
// be nil in tests that don't exercise locking.
func New(logger *slog.Logger, core *usecase.Watcher, roots []usecase.RP, workTree string, lock usecase.LockPort, lockPath string) (*Adapter, error) {
	if logger == nil {
		panic("watcher adapter requires logger")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	a := &Adapter{logger: logger, fsw: fsw, core: core, workTree: workTree, jobs: make(chan Job), lock: lock, lockPath: lockPath}
	a.AddRoots(roots)
	return a, nil
}

// AddRoots registers additional fsnotify watches, used after a reload
// widens the managed set (spec §4.8, "no recursive full-home scan ever
// occurs" — reload still only watches concrete directories).
func (a *Adapter) AddRoots(roots []usecase.RP) {
	for _, r := range roots {
		dir := filepath.Join(a.workTree, filepath.FromSlash(r))
		if err := a.fsw.Add(dir); err != nil {
			a.logger.Warn("watcher: failed to register root", "dir", dir, "error", err)
		}
	}
}

// Submit hands req to the watcher's single-threaded loop and blocks
// for its response. Safe to call from any goroutine (e.g. the IPC
// server's per-connection goroutine); the loop itself stays
// single-threaded because only Run's select reads from jobs.
func (a *Adapter) Submit(ctx context.Context, req usecase.IPCRequest) (usecase.IPCResponse, error) {
	job := Job{Request: req, Response: make(chan usecase.IPCResponse, 1)}
	select {
	case a.jobs <- job:
	case <-ctx.Done():
		return usecase.IPCResponse{}, ctx.Err()
	}
	select {
	case resp := <-job.Response:
		return resp, nil
	case <-ctx.Done():
		return usecase.IPCResponse{}, ctx.Err()
	}
}

// Run processes events until ctx is canceled, then performs one final
// DrainAll and returns (spec §4.8, "Cancellation"). onFlush, if
// non-nil, is called with every flush's results for logging/IPC status.
// onIPC, if non-nil, handles jobs submitted through Submit; it runs
// from this same loop, so it and core are never touched concurrently.
func (a *Adapter) Run(ctx context.Context, onFlush func([]usecase.FlushResult), onIPC func(usecase.IPCRequest) usecase.IPCResponse) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			results, err := a.DrainAll(context.Background())
			if onFlush != nil {
				onFlush(results)
			}
			_ = a.fsw.Close()
			return err
		case event, ok := <-a.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			rel, err := filepath.Rel(a.workTree, event.Name)
			if err != nil {
				a.logger.Warn("watcher: event outside work tree", "path", event.Name, "error", err)
				continue
			}
			a.core.HandleEvent(filepath.ToSlash(rel), time.Now())
		case err, ok := <-a.fsw.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watcher: fsnotify error", "error", err)
		case <-ticker.C:
			results, err := a.Flush(ctx)
			if err != nil {
				return err
			}
			if len(results) > 0 && onFlush != nil {
				onFlush(results)
			}
		case job := <-a.jobs:
			if onIPC == nil {
				job.Response <- usecase.IPCResponse{OK: false, Error: "ipc not handled"}
				continue
			}
			job.Response <- onIPC(job.Request)
		}
	}
}

// Flush takes the repository advisory lock (when one is configured)
// and flushes the debounce buffer's elapsed paths (spec §5, "Shared
// resources": "The watcher acquires and releases it per staging
// batch"). A busy lock means a one-shot command currently holds it;
// this flush is skipped and retried on the next tick rather than
// blocking the single-threaded loop.
func (a *Adapter) Flush(ctx context.Context) ([]usecase.FlushResult, error) {
	release, ok, err := a.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		a.logger.Debug("watcher: staging lock busy, skipping this flush")
		return nil, nil
	}
	defer release()
	return a.core.Flush(ctx, time.Now())
}

// DrainAll takes the repository advisory lock and performs the final
// unconditional flush used at shutdown (spec §4.8, "Cancellation").
func (a *Adapter) DrainAll(ctx context.Context) ([]usecase.FlushResult, error) {
	release, ok, err := a.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		a.logger.Debug("watcher: staging lock busy, skipping shutdown drain")
		return nil, nil
	}
	defer release()
	return a.core.DrainAll(ctx)
}

func (a *Adapter) acquireLock(ctx context.Context) (release func(), ok bool, err error) {
	if a.lock == nil {
		return func() {}, true, nil
	}
	ok, err = a.lock.TryLock(ctx, a.lockPath)
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() { _ = a.lock.Unlock(ctx, a.lockPath) }, true, nil
}
