package process

import (
	"log/slog"
	"os"
	"os/user"
)

// Adapter implements ProcessPort using real process operations
type Adapter struct {
	logger *slog.Logger
}

// New creates a new process adapter.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		panic("process adapter requires logger")
	}
	return &Adapter{logger: logger}
}

// GetPID returns the current process PID
func (a *Adapter) GetPID() int {
	return os.Getpid()
}

// Hostname returns the local hostname, used for generation records
// and the snapshot auto-message template (spec §3, §4.3).
func (a *Adapter) Hostname() (string, error) {
	return os.Hostname()
}

// CurrentUser returns the invoking user's username, used for
// generation records (spec §3, "Generation record").
func (a *Adapter) CurrentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}
