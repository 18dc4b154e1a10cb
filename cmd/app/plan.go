package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/reidond/hometree/internal/usecase"
)

func newPlanCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Dry-run planning subcommands",
	}
	cmd.AddCommand(newPlanDeployCmd(flags, exitCode))
	return cmd
}

func newPlanDeployCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <rev>",
		Short: "Print the plan a deploy of <rev> would apply, without applying it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runPlanDeploy(cmd, logger, flags, args[0]))
		},
	}
}

func runPlanDeploy(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, rev string) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	revisionID, err := rc.Deps.Repo.Resolve(ctx, rev)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", usecase.ErrCritical, rev, err)
	}

	actions, err := rc.Planner.Plan(ctx, revisionID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, action := range actions {
		fmt.Fprintf(out, "%s %s\n", action.Kind, action.Path)
	}
	return nil
}

func newDeployCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	var noSecrets, noBackup bool

	cmd := &cobra.Command{
		Use:   "deploy <rev>",
		Short: "Apply a target revision onto the live home directory",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runDeploy(cmd, logger, flags, args[0], noSecrets, noBackup))
		},
	}
	cmd.Flags().BoolVar(&noSecrets, "no-secrets", false, "skip writing decrypted secret plaintexts")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip taking a backup set before applying")
	return cmd
}

func runDeploy(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, rev string, noSecrets, noBackup bool) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	return withRepoLock(ctx, rc, func() error {
		pauseWatcherForDeploy(rc, logger, "deploy")
		defer resumeWatcherAfterDeploy(rc, logger)

		result, err := deployRevision(ctx, rc, rev, usecase.DeployOptions{
			NoSecrets: noSecrets,
			NoBackup:  noBackup,
		})
		if err != nil {
			return err
		}
		notifyDeployResult(ctx, rc, logger, "deploy", result)
		fmt.Fprintf(cmd.OutOrStdout(), "deployed %s (%s)\n", result.RevisionID, result.Generation.ActionsSummary)
		return nil
	})
}

// deployRevision resolves rev, plans, and applies it, sharing logic
// between `deploy` and `rollback` (spec §4.7: "the applier runs with
// the same guards as a normal deploy").
func deployRevision(ctx context.Context, rc *runContext, rev string, opts usecase.DeployOptions) (*usecase.DeployResult, error) {
	revisionID, err := rc.Deps.Repo.Resolve(ctx, rev)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", usecase.ErrCritical, rev, err)
	}

	actions, err := rc.Planner.Plan(ctx, revisionID)
	if err != nil {
		return nil, err
	}

	opts.ConfigHash = usecase.ConfigHash(rc.Config)
	return rc.Applier.Deploy(ctx, revisionID, actions, opts)
}

func notifyDeployResult(ctx context.Context, rc *runContext, logger *slog.Logger, verb string, result *usecase.DeployResult) {
	if rc.Deps.Notify == nil {
		return
	}
	msg := fmt.Sprintf("%s complete: %s", verb, result.Generation.ActionsSummary)
	if err := rc.Deps.Notify.Send(ctx, "hometree", msg, ""); err != nil {
		logger.Debug("notification failed", "error", err)
	}
}
