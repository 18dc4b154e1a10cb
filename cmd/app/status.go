package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newStatusCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the managed set and current configuration summary",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runStatus(cmd, logger, flags))
		},
	}
}

func runStatus(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags) error {
	rc, err := loadRunContext(cmd.Context(), logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "home root:   %s\n", rc.Paths.HomeRoot)
	fmt.Fprintf(out, "config:      %s\n", rc.Paths.ConfigPath)
	fmt.Fprintf(out, "state dir:   %s\n", rc.Paths.StateDir)
	fmt.Fprintf(out, "git dir:     %s\n", expandHome(rc.Config.Repo.GitDir, rc.Paths.HomeRoot))
	fmt.Fprintf(out, "roots:       %v\n", rc.Config.Manage.Roots)
	fmt.Fprintf(out, "extra files: %v\n", rc.Config.Manage.ExtraFiles)
	fmt.Fprintf(out, "secrets:     enabled=%t rules=%d\n", rc.Config.Secrets.Enabled, len(rc.Config.Secrets.Rules))
	fmt.Fprintf(out, "watch:       enabled=%t debounce_ms=%d\n", rc.Config.Watch.Enabled, rc.Config.Watch.DebounceMS)
	return nil
}
