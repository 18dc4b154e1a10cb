// Package reposync implements usecase.LockPort as a genuine OS
// advisory file lock via github.com/gofrs/flock, replacing the
// teacher's directory-plus-JSON-PID-file scheme (internal/adapters/lock)
// with a lock the kernel itself arbitrates, so a crashed holder's lock
// is released automatically instead of needing PID-reuse heuristics.
package reposync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofrs/flock"
)

// Adapter implements usecase.LockPort using one *flock.Flock per lock
// path, created on first use and kept for the adapter's lifetime.
type Adapter struct {
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// New creates a reposync adapter.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		panic("reposync adapter requires logger")
	}
	return &Adapter{logger: logger, locks: make(map[string]*flock.Flock)}
}

func (a *Adapter) handle(path string) *flock.Flock {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.locks[path]
	if !ok {
		f = flock.New(path)
		a.locks[path] = f
	}
	return f
}

// TryLock attempts a non-blocking exclusive lock on path (spec §5:
// "the repository is accessed by exactly one operation at a time").
func (a *Adapter) TryLock(ctx context.Context, path string) (bool, error) {
	f := a.handle(path)
	locked, err := f.TryLock()
	if err != nil {
		return false, fmt.Errorf("reposync: try lock %s: %w", path, err)
	}
	return locked, nil
}

// Unlock releases path's lock if this adapter instance holds it.
func (a *Adapter) Unlock(ctx context.Context, path string) error {
	a.mu.Lock()
	f, ok := a.locks[path]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if err := f.Unlock(); err != nil {
		return fmt.Errorf("reposync: unlock %s: %w", path, err)
	}
	return nil
}
