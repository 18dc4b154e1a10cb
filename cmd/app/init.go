package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/reidond/hometree/internal/usecase"
)

func newInitCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the backing repository and a default configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runInit(cmd.Context(), logger, flags, force))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config.toml")
	return cmd
}

func runInit(ctx context.Context, logger *slog.Logger, flags *globalFlags, force bool) error {
	paths, err := resolveRootPaths(flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return fmt.Errorf("resolve path roots: %w: %v", usecase.ErrCritical, err)
	}

	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	exists, err := configFileExists(ctx, rc)
	if err != nil {
		return err
	}
	if exists && !force {
		return fmt.Errorf("%w: %s already exists (use --force to overwrite)", usecase.ErrUsage, paths.ConfigPath)
	}

	cfg := usecase.DefaultConfigFile()
	cfg.Repo.GitDir = "~/.local/share/hometree/repo.git"
	cfg.Repo.WorkTree = "~"
	validated, err := cfg.Validate()
	if err != nil {
		return err
	}

	configDir := rc.Deps.FileSystem.Dir(paths.ConfigPath)
	if err := rc.Deps.FileSystem.CreateDir(ctx, configDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}
	if err := rc.Deps.FileSystem.CreateDir(ctx, paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}

	homeRoot := expandHome(validated.Repo.WorkTree, paths.HomeRoot)
	gitDir := expandHome(validated.Repo.GitDir, paths.HomeRoot)
	if err := rc.Deps.Repo.Init(ctx, gitDir, homeRoot); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}

	if err := writeExcludesFile(ctx, rc, rc.excludesPath(), validated); err != nil {
		return err
	}

	if err := rc.saveConfig(ctx, validated); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}

	return nil
}

// writeExcludesFile rewrites the hometree-managed excludes file and
// points the repository's excludes-file setting at it (spec §4.2
// Init, §6 "Excludes file": "hometree owns and rewrites this file
// whenever secrets rules change").
func writeExcludesFile(ctx context.Context, rc *runContext, path string, cfg usecase.ConfigFile) error {
	content := "# Managed by hometree. Do not edit by hand.\n"
	for _, p := range cfg.Ignore.Patterns {
		content += p + "\n"
	}
	if err := rc.Deps.FileSystem.AtomicWriteFile(ctx, path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrWriteFailed, err)
	}
	return rc.Deps.Repo.SetExcludesFile(ctx, path)
}

func configFileExists(ctx context.Context, rc *runContext) (bool, error) {
	_, err := rc.Deps.FileSystem.Stat(ctx, rc.Paths.ConfigPath)
	if err != nil {
		if rc.Deps.FileSystem.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
