package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reidond/hometree/internal/app"
	"github.com/reidond/hometree/internal/usecase"
)

// runContext bundles the loaded configuration and wired core
// components a single CLI invocation needs. It is rebuilt fresh every
// invocation (spec §3, "Ownership/lifetime": configuration is loaded
// once per invocation and is immutable for the life of that
// invocation — only the watcher's reload swaps it atomically).
type runContext struct {
	Paths      rootPaths
	HomeRoot   string
	GitDir     string
	Config     usecase.ConfigFile
	Deps       *usecase.Dependencies
	Classifier *usecase.Classifier
	Secrets    *usecase.SecretsEngine // nil when secrets.enabled is false
	Planner    *usecase.Planner
	Applier    *usecase.Applier
	Verifier   *usecase.Verifier
}

func loadRunContext(ctx context.Context, logger *slog.Logger, homeRootFlag, xdgRootFlag string) (*runContext, error) {
	paths, err := resolveRootPaths(homeRootFlag, xdgRootFlag)
	if err != nil {
		return nil, fmt.Errorf("resolve path roots: %w: %v", usecase.ErrCritical, err)
	}

	// A bare loader is enough to read config.toml; it does not need a
	// repository bound yet since git_dir/work_tree come from the file
	// itself.
	loader := app.NewDefaultDependencies(logger, "", "")
	raw, err := loader.Config.Load(ctx, paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w: %v", usecase.ErrCritical, err)
	}
	cfg, err := raw.Validate()
	if err != nil {
		return nil, err
	}

	homeRoot := expandHome(cfg.Repo.WorkTree, paths.HomeRoot)
	if homeRoot == "" {
		homeRoot = paths.HomeRoot
	}
	gitDir := expandHome(cfg.Repo.GitDir, paths.HomeRoot)

	deps := app.NewDefaultDependencies(logger, gitDir, homeRoot)
	classifier := usecase.NewClassifier(cfg)

	var secretsEngine *usecase.SecretsEngine
	if cfg.Secrets.Enabled {
		secretsEngine = usecase.NewSecretsEngine(deps.Secrets, deps.FileSystem, deps.Repo, cfg.Secrets, homeRoot)
	}

	planner := usecase.NewPlanner(classifier, deps.Repo, deps.FileSystem, homeRoot)
	applier := usecase.NewApplier(classifier, deps.FileSystem, deps.Repo, deps.Process, secretsEngine, cfg.Secrets, homeRoot, paths.StateDir)
	verifier := usecase.NewVerifier(classifier, deps.FileSystem, deps.Repo, secretsEngine, homeRoot)

	return &runContext{
		Paths:      paths,
		HomeRoot:   homeRoot,
		GitDir:     gitDir,
		Config:     cfg,
		Deps:       deps,
		Classifier: classifier,
		Secrets:    secretsEngine,
		Planner:    planner,
		Applier:    applier,
		Verifier:   verifier,
	}, nil
}

func (rc *runContext) generationsPath() string {
	return rc.Deps.FileSystem.Join(rc.Paths.StateDir, "generations.jsonl")
}

func (rc *runContext) saveConfig(ctx context.Context, cfg usecase.ConfigFile) error {
	return rc.Deps.Config.Save(ctx, rc.Paths.ConfigPath, cfg)
}

// excludesPath is the hometree-managed excludes file path set as the
// repository's core.excludesFile (spec §6, "Excludes file"); it lives
// alongside config.toml under the same config directory.
func (rc *runContext) excludesPath() string {
	return rc.Deps.FileSystem.Join(rc.Deps.FileSystem.Dir(rc.Paths.ConfigPath), "gitignore")
}

// lockPath is the advisory lockfile under the repository root that
// serializes access between any one-shot command and the watcher's
// staging step (spec §5, "Shared resources").
func (rc *runContext) lockPath() string {
	return rc.Deps.FileSystem.Join(rc.GitDir, "hometree.lock")
}

// withRepoLock wraps fn with the repository's advisory lock, failing
// with ErrLockBusy when another hometree operation already holds it
// (spec §5, §7).
func withRepoLock(ctx context.Context, rc *runContext, fn func() error) error {
	path := rc.lockPath()
	ok, err := rc.Deps.Lock.TryLock(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
	}
	if !ok {
		return usecase.ErrLockBusy
	}
	defer func() { _ = rc.Deps.Lock.Unlock(ctx, path) }()
	return fn()
}
