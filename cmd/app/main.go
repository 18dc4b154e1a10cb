package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/reidond/hometree/internal/adapters/loghandler"
	"github.com/reidond/hometree/internal/usecase"
)

func main() {
	os.Exit(runMain())
}

func runMain() int {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	cmd, exitCode := newRootCmd()
	cmd.SetErr(os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsageError
	}
	return *exitCode
}

// globalFlags holds the flags every subcommand reads through
// loadRunContext (spec §6, "Global flags --home-root and --xdg-root").
type globalFlags struct {
	verbose  bool
	homeRoot string
	xdgRoot  string
}

func newRootCmd() (*cobra.Command, *int) {
	exitCode := exitSuccess
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "hometree",
		Short:         "Versioned subset of your home directory, backed by git",
		SilenceUsage:  false,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&flags.homeRoot, "home-root", "", "override the resolved home directory")
	cmd.PersistentFlags().StringVar(&flags.xdgRoot, "xdg-root", "", "override config/state/runtime root resolution")

	cmd.AddCommand(newInitCmd(flags, &exitCode))
	cmd.AddCommand(newStatusCmd(flags, &exitCode))
	cmd.AddCommand(newTrackCmd(flags, &exitCode))
	cmd.AddCommand(newUntrackCmd(flags, &exitCode))
	cmd.AddCommand(newSnapshotCmd(flags, &exitCode))
	cmd.AddCommand(newLogCmd(flags, &exitCode))
	cmd.AddCommand(newPlanCmd(flags, &exitCode))
	cmd.AddCommand(newDeployCmd(flags, &exitCode))
	cmd.AddCommand(newRollbackCmd(flags, &exitCode))
	cmd.AddCommand(newVerifyCmd(flags, &exitCode))
	cmd.AddCommand(newSecretCmd(flags, &exitCode))
	cmd.AddCommand(newDaemonCmd(flags, &exitCode))
	cmd.AddCommand(newVersionCmd())

	return cmd, &exitCode
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := loghandler.NewHandler(os.Stderr, &loghandler.Options{
		Level:    level,
		UseColor: shouldUseColor(os.Stderr),
	})
	return slog.New(handler)
}

func shouldUseColor(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func mapExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	switch {
	case errors.Is(err, usecase.ErrUsage),
		errors.Is(err, usecase.ErrConfigInvalid),
		errors.Is(err, usecase.ErrPathOutsideHome),
		errors.Is(err, usecase.ErrPathIsDenylisted),
		errors.Is(err, usecase.ErrPathIsSecret):
		return exitUsageError
	case errors.Is(err, usecase.ErrLockBusy):
		return exitLockBusy
	case errors.Is(err, usecase.ErrInterrupted):
		return exitInterrupted
	default:
		return exitCriticalError
	}
}
