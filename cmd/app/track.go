package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/reidond/hometree/internal/usecase"
)

func newTrackCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	var allowOutside bool
	var force bool

	cmd := &cobra.Command{
		Use:   "track <path>...",
		Short: "Add one or more paths to the managed set and stage them",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runTrack(cmd.Context(), logger, flags, args, usecase.TrackOptions{
				AllowOutside: allowOutside,
				Force:        force,
			}))
		},
	}
	cmd.Flags().BoolVar(&allowOutside, "allow-outside", false, "allow a path outside any managed root to become an extra file")
	cmd.Flags().BoolVar(&force, "force", false, "track a path even though an ignore pattern matches it")
	return cmd
}

func runTrack(ctx context.Context, logger *slog.Logger, flags *globalFlags, paths []string, opts usecase.TrackOptions) error {
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	if err := withRepoLock(ctx, rc, func() error {
		cfg := rc.Config
		for _, p := range paths {
			updated, err := usecase.Track(ctx, rc.Classifier, rc.Deps.Repo, cfg, p, opts)
			if err != nil {
				return fmt.Errorf("track %s: %w", p, err)
			}
			cfg = updated
			logger.Info("tracked", "path", p)
		}
		return rc.saveConfig(ctx, cfg)
	}); err != nil {
		return err
	}
	return nil
}

func newUntrackCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "untrack <path>...",
		Short: "Remove one or more paths from the managed set",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runUntrack(cmd.Context(), logger, flags, args))
		},
	}
	return cmd
}

func runUntrack(ctx context.Context, logger *slog.Logger, flags *globalFlags, paths []string) error {
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	return withRepoLock(ctx, rc, func() error {
		cfg := rc.Config
		for _, p := range paths {
			updated, err := usecase.Untrack(ctx, rc.Deps.Repo, cfg, p)
			if err != nil {
				return fmt.Errorf("untrack %s: %w", p, err)
			}
			cfg = updated
			logger.Info("untracked", "path", p)
		}
		return rc.saveConfig(ctx, cfg)
	})
}
