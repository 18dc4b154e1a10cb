package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reidond/hometree/internal/adapters/ipc"
	"github.com/reidond/hometree/internal/adapters/watcher"
	"github.com/reidond/hometree/internal/usecase"
)

func newDaemonCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the watcher (component C10)",
	}
	cmd.AddCommand(newDaemonRunCmd(flags, exitCode))
	cmd.AddCommand(newDaemonStartCmd(flags, exitCode))
	cmd.AddCommand(newDaemonStopCmd(flags, exitCode))
	cmd.AddCommand(newDaemonRestartCmd(flags, exitCode))
	cmd.AddCommand(newDaemonStatusCmd(flags, exitCode))
	cmd.AddCommand(newDaemonReloadCmd(flags, exitCode))
	cmd.AddCommand(newDaemonPauseCmd(flags, exitCode))
	cmd.AddCommand(newDaemonResumeCmd(flags, exitCode))
	cmd.AddCommand(newDaemonFlushCmd(flags, exitCode))
	cmd.AddCommand(newDaemonInstallSystemdCmd(flags, exitCode))
	cmd.AddCommand(newDaemonUninstallSystemdCmd(flags, exitCode))
	return cmd
}

func socketPath(rc *runContext) string {
	return rc.Deps.FileSystem.Join(rc.Paths.RuntimeDir, "ipc.sock")
}

func pidFilePath(rc *runContext) string {
	return rc.Deps.FileSystem.Join(rc.Paths.RuntimeDir, "daemon.pid")
}

// newDaemonRunCmd runs the watcher loop in the foreground of the
// current process (spec §4.8, §4.9). `daemon start` execs this in the
// background.
func newDaemonRunCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the watcher in the foreground",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonRun(cmd.Context(), logger, flags))
		},
	}
}

// daemonState is the watcher process's mutable state. Every field is
// only ever touched from inside the single-threaded loop driven by
// watcher.Adapter.Run: filesystem events, debounce flushes, and IPC
// jobs (delivered via Adapter.Submit) all serialize through that one
// select statement (spec §5, "Suspension points").
type daemonState struct {
	rc      *runContext
	core    *usecase.Watcher
	adapter *watcher.Adapter
	flags   *globalFlags
}

func runDaemonRun(ctx context.Context, logger *slog.Logger, flags *globalFlags) error {
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	if err := rc.Deps.FileSystem.CreateDir(ctx, rc.Paths.RuntimeDir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrIpcUnavailable, err)
	}
	if err := writePIDFile(ctx, rc); err != nil {
		logger.Warn("daemon: write pid file failed", "error", err)
	}
	defer func() { _ = rc.Deps.FileSystem.Remove(ctx, pidFilePath(rc)) }()

	core := usecase.NewWatcher(rc.Classifier, rc.Deps.Repo, rc.Secrets, rc.Config.Watch)
	roots := usecase.WatchRoots(rc.Classifier)

	adapter, err := watcher.New(logger, core, roots, rc.HomeRoot, rc.Deps.Lock, rc.lockPath())
	if err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}

	state := &daemonState{rc: rc, core: core, adapter: adapter, flags: flags}

	server, err := ipc.Listen(logger, socketPath(rc))
	if err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrIpcUnavailable, err)
	}
	defer func() { _ = server.Close() }()

	server.Handler = func(req usecase.IPCRequest) usecase.IPCResponse {
		resp, err := adapter.Submit(ctx, req)
		if err != nil {
			return usecase.IPCResponse{OK: false, Error: err.Error()}
		}
		return resp
	}
	go func() {
		if err := server.Serve(); err != nil {
			logger.Warn("daemon: ipc server stopped", "error", err)
		}
	}()

	logger.Info("daemon: watcher started", "roots", roots)
	return adapter.Run(ctx, func(results []usecase.FlushResult) {
		logFlushResults(logger, state.rc, results)
	}, func(req usecase.IPCRequest) usecase.IPCResponse {
		return handleIPCRequest(ctx, logger, state, req)
	})
}

func logFlushResults(logger *slog.Logger, rc *runContext, results []usecase.FlushResult) {
	for _, r := range results {
		if r.Rejected {
			logger.Debug("watcher: rejected", "path", r.Path, "reason", r.Reason)
			continue
		}
		logger.Info("watcher: staged", "path", r.Path, "auto_added", r.AutoAdded)
		if r.AutoAdded && rc.Deps.Notify != nil {
			_ = rc.Deps.Notify.Send(context.Background(), "hometree", fmt.Sprintf("auto-added %s", r.Path), "")
		}
	}
}

// handleIPCRequest runs from inside the watcher's single-threaded
// loop, so mutating state.rc/state.core for a reload needs no locking
// (spec §4.9: "reload atomically swaps configuration and watch roots;
// if validation fails the old configuration remains in effect").
func handleIPCRequest(ctx context.Context, logger *slog.Logger, state *daemonState, req usecase.IPCRequest) usecase.IPCResponse {
	switch req.Command {
	case usecase.IPCStatus:
		now := time.Now()
		return usecase.IPCResponse{OK: true, Status: &usecase.DaemonStatus{
			Paused:        state.core.Paused(now),
			InhibitReason: state.core.InhibitReason(now),
		}}
	case usecase.IPCPause:
		state.core.Pause(time.Now(), time.Duration(req.TTLMs)*time.Millisecond, req.Reason)
		return usecase.IPCResponse{OK: true}
	case usecase.IPCResume:
		state.core.Resume()
		return usecase.IPCResponse{OK: true}
	case usecase.IPCFlush:
		results, err := state.adapter.Flush(ctx)
		if err != nil {
			return usecase.IPCResponse{OK: false, Error: err.Error()}
		}
		logFlushResults(logger, state.rc, results)
		return usecase.IPCResponse{OK: true}
	case usecase.IPCReload:
		if err := reloadDaemonState(ctx, logger, state); err != nil {
			return usecase.IPCResponse{OK: false, Error: err.Error()}
		}
		return usecase.IPCResponse{OK: true}
	default:
		return usecase.IPCResponse{OK: false, Error: "unknown command"}
	}
}

// reloadDaemonState re-reads config.toml, validates it, and only on
// success swaps the classifier/secrets/watch config the running
// watcher consults and widens its fsnotify registrations. A validation
// failure leaves state untouched (spec §4.9).
func reloadDaemonState(ctx context.Context, logger *slog.Logger, state *daemonState) error {
	newRC, err := loadRunContext(ctx, logger, state.flags.homeRoot, state.flags.xdgRoot)
	if err != nil {
		return err
	}

	state.core.Reload(newRC.Classifier, newRC.Secrets, newRC.Config.Watch)
	state.adapter.AddRoots(usecase.WatchRoots(newRC.Classifier))
	state.rc = newRC
	logger.Info("daemon: configuration reloaded")
	return nil
}

func writePIDFile(ctx context.Context, rc *runContext) error {
	return rc.Deps.FileSystem.AtomicWriteFile(ctx, pidFilePath(rc), []byte(strconv.Itoa(rc.Deps.Process.GetPID())), 0o644)
}

func readPIDFile(ctx context.Context, rc *runContext) (int, error) {
	data, err := rc.Deps.FileSystem.ReadFile(ctx, pidFilePath(rc))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func newDaemonStartCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the watcher in the background",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonStart(cmd.Context(), logger, flags))
		},
	}
}

func runDaemonStart(ctx context.Context, logger *slog.Logger, flags *globalFlags) error {
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}
	if pid, err := readPIDFile(ctx, rc); err == nil && processAlive(pid) {
		return fmt.Errorf("%w: daemon already running (pid %d)", usecase.ErrUsage, pid)
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}
	args := []string{"daemon", "run"}
	if flags.homeRoot != "" {
		args = append(args, "--home-root", flags.homeRoot)
	}
	if flags.xdgRoot != "" {
		args = append(args, "--xdg-root", flags.xdgRoot)
	}
	proc := exec.Command(self, args...)
	proc.Stdout = nil
	proc.Stderr = nil
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("%w: start daemon: %v", usecase.ErrCritical, err)
	}
	logger.Info("daemon: started", "pid", proc.Process.Pid)
	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func newDaemonStopCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running watcher",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonStop(cmd.Context(), logger, flags))
		},
	}
}

func runDaemonStop(ctx context.Context, logger *slog.Logger, flags *globalFlags) error {
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}
	pid, err := readPIDFile(ctx, rc)
	if err != nil {
		return fmt.Errorf("%w: no running daemon found: %v", usecase.ErrUsage, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}
	logger.Info("daemon: stop signal sent", "pid", pid)
	return nil
}

func newDaemonRestartCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the watcher",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			ctx := cmd.Context()
			if err := runDaemonStop(ctx, logger, flags); err != nil {
				logger.Warn("daemon: stop before restart failed", "error", err)
			}
			time.Sleep(200 * time.Millisecond)
			handleCmdError(exitCode, runDaemonStart(ctx, logger, flags))
		},
	}
}

func newDaemonStatusCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the running watcher's status",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonIPC(cmd, logger, flags, usecase.IPCRequest{Command: usecase.IPCStatus}))
		},
	}
}

func newDaemonReloadCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload configuration in place without dropping the watcher process",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonIPC(cmd, logger, flags, usecase.IPCRequest{Command: usecase.IPCReload}))
		},
	}
}

func newDaemonPauseCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	var ttlMs int64
	var reason string
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Suppress staging until resumed or the TTL elapses",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonIPC(cmd, logger, flags, usecase.IPCRequest{
				Command: usecase.IPCPause,
				TTLMs:   ttlMs,
				Reason:  reason,
			}))
		},
	}
	cmd.Flags().Int64Var(&ttlMs, "ttl-ms", int64(usecase.DefaultPauseTTL/time.Millisecond), "inhibit duration in milliseconds")
	cmd.Flags().StringVar(&reason, "reason", "", "reason tag recorded with the inhibit marker")
	return cmd
}

func newDaemonResumeCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Clear any inhibit marker immediately",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonIPC(cmd, logger, flags, usecase.IPCRequest{Command: usecase.IPCResume}))
		},
	}
}

func newDaemonFlushCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Force an immediate flush of the debounce buffer",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonIPC(cmd, logger, flags, usecase.IPCRequest{Command: usecase.IPCFlush}))
		},
	}
}

// pauseWatcherForDeploy asks a running daemon to suppress staging for
// the duration of a deploy/rollback (spec §4.8 "Pause/inhibit": "Deploy
// and rollback install an inhibit marker before starting and clear it
// on completion"). A daemon need not be running; a dial failure (no
// socket) just means there is nothing to inhibit.
func pauseWatcherForDeploy(rc *runContext, logger *slog.Logger, reason string) {
	resp, err := ipc.Call(socketPath(rc), usecase.IPCRequest{
		Command: usecase.IPCPause,
		TTLMs:   int64(usecase.DefaultPauseTTL / time.Millisecond),
		Reason:  reason,
	})
	if err != nil {
		logger.Debug("deploy: no running daemon to pause", "error", err)
		return
	}
	if !resp.OK {
		logger.Warn("deploy: pause request rejected", "error", resp.Error)
	}
}

// resumeWatcherAfterDeploy clears the inhibit marker a daemon-driven
// pauseWatcherForDeploy installed. Called unconditionally via defer so
// the marker is cleared even when the deploy/rollback itself fails.
func resumeWatcherAfterDeploy(rc *runContext, logger *slog.Logger) {
	resp, err := ipc.Call(socketPath(rc), usecase.IPCRequest{Command: usecase.IPCResume})
	if err != nil {
		logger.Debug("deploy: no running daemon to resume", "error", err)
		return
	}
	if !resp.OK {
		logger.Warn("deploy: resume request rejected", "error", resp.Error)
	}
}

func runDaemonIPC(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, req usecase.IPCRequest) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	resp, err := ipc.Call(socketPath(rc), req)
	if err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrIpcUnavailable, err)
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s", usecase.ErrCritical, resp.Error)
	}
	if resp.Status != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "paused=%t reason=%q\n", resp.Status.Paused, resp.Status.InhibitReason)
	}
	return nil
}

const systemdUnitTemplate = `[Unit]
Description=hometree watcher

[Service]
Type=simple
ExecStart=%s daemon run
Restart=on-failure

[Install]
WantedBy=default.target
`

func newDaemonInstallSystemdCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "install-systemd",
		Short: "Write a user systemd unit that runs 'daemon run'",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonInstallSystemd(cmd, logger, flags))
		},
	}
}

func runDaemonInstallSystemd(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}
	unitDir := rc.Deps.FileSystem.Join(rc.HomeRoot, ".config", "systemd", "user")
	if err := rc.Deps.FileSystem.CreateDir(ctx, unitDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}
	unitPath := rc.Deps.FileSystem.Join(unitDir, "hometree.service")
	content := fmt.Sprintf(systemdUnitTemplate, self)
	if err := rc.Deps.FileSystem.AtomicWriteFile(ctx, unitPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrWriteFailed, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", unitPath)
	return nil
}

func newDaemonUninstallSystemdCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall-systemd",
		Short: "Remove the user systemd unit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDaemonUninstallSystemd(cmd, logger, flags))
		},
	}
}

func runDaemonUninstallSystemd(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}
	unitPath := rc.Deps.FileSystem.Join(rc.HomeRoot, ".config", "systemd", "user", "hometree.service")
	if err := rc.Deps.FileSystem.Remove(ctx, unitPath); err != nil && !rc.Deps.FileSystem.IsNotExist(err) {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", unitPath)
	return nil
}
