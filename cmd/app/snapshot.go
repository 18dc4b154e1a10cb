package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/reidond/hometree/internal/usecase"
)

func newSnapshotCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	var message string
	var auto bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Commit the current index as a new revision",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runSnapshot(cmd, logger, flags, message, auto))
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().BoolVar(&auto, "auto", false, "render the message from snapshot.auto_message_template")
	return cmd
}

func runSnapshot(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, message string, auto bool) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	if auto {
		if rc.Config.Snapshot.AutoMessageTemplate == "" {
			return fmt.Errorf("%w: snapshot.auto_message_template is required for --auto", usecase.ErrConfigInvalid)
		}
		host, _ := rc.Deps.Process.Hostname()
		message = usecase.ResolveAutoMessage(rc.Config.Snapshot.AutoMessageTemplate, time.Now(), host)
	}
	if message == "" {
		return fmt.Errorf("%w: -m MSG or --auto is required", usecase.ErrUsage)
	}

	return withRepoLock(ctx, rc, func() error {
		revisionID, err := usecase.Snapshot(ctx, rc.Deps.Repo, rc.Config.Secrets.Rules, message)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", revisionID)
		return nil
	})
}

func newLogCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List past deploy/rollback generations",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runLog(cmd, logger, flags, limit))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most N most recent entries (0 = all)")
	return cmd
}

func runLog(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, limit int) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	records, err := usecase.ReadGenerations(ctx, rc.Deps.FileSystem, rc.generationsPath())
	if err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	out := cmd.OutOrStdout()
	for _, rec := range records {
		marker := ""
		if rec.Rollback {
			marker = " (rollback)"
		}
		fmt.Fprintf(out, "%s  %s  %s%s",
			rec.Timestamp.Format("2006-01-02T15:04:05Z"), rec.RevisionID[:min(12, len(rec.RevisionID))], rec.ActionsSummary, marker)
		if rec.Message != "" {
			fmt.Fprintf(out, "  %q", rec.Message)
		}
		fmt.Fprintln(out)
	}
	return nil
}
