package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/reidond/hometree/internal/usecase"
)

func newRollbackCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	var steps int
	var to string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Redeploy a prior generation",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runRollback(cmd, logger, flags, steps, to))
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "roll back N generations (default 1)")
	cmd.Flags().StringVar(&to, "to", "", "roll back to an explicit revision instead of --steps")
	return cmd
}

func runRollback(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, steps int, to string) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	return withRepoLock(ctx, rc, func() error {
		pauseWatcherForDeploy(rc, logger, "rollback")
		defer resumeWatcherAfterDeploy(rc, logger)

		records, err := usecase.ReadGenerations(ctx, rc.Deps.FileSystem, rc.generationsPath())
		if err != nil {
			return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
		}

		result, err := usecase.Rollback(ctx, rc.Deps.Repo, rc.Planner, rc.Applier, records, usecase.RollbackOptions{
			Steps: steps,
			To:    to,
		}, usecase.DeployOptions{ConfigHash: usecase.ConfigHash(rc.Config)})
		if err != nil {
			return err
		}
		notifyDeployResult(ctx, rc, logger, "rollback", result)
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back to %s (%s)\n", result.RevisionID, result.Generation.ActionsSummary)
		return nil
	})
}
