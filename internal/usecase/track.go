package usecase

import (
	"context"
	"fmt"
)

// TrackOptions mirrors the `track` command's flags (spec §6).
type TrackOptions struct {
	AllowOutside bool
	Force        bool
}

// Track classifies path and, if in scope, stages it via the
// repository backend. A path outside any managed root is added to
// manage.extra_files when AllowOutside makes it eligible; the caller
// persists the returned ConfigFile. Track never mutates config for a
// path that is already InRoot or already a known ExtraFile.
func Track(ctx context.Context, classifier *Classifier, repo RepoPort, cfg ConfigFile, path RP, opts TrackOptions) (ConfigFile, error) {
	rp := NormalizeRP(path)
	verdict := classifier.Classify(rp, opts.AllowOutside)

	switch verdict.Class {
	case ClassSecretPlaintext, ClassSecretCiphertext:
		return cfg, fmt.Errorf("%w: %s (use 'secret add' instead)", ErrPathIsSecret, rp)
	case ClassOutsideAndDisallowed:
		return cfg, fmt.Errorf("%w: %s", ErrPathOutsideHome, rp)
	case ClassIgnored:
		if !opts.Force && verdict.Reason != ReasonNotManaged {
			return cfg, fmt.Errorf("%w: %s is ignored (use --force to track anyway)", ErrPathIsDenylisted, rp)
		}
	}

	out := cfg
	if verdict.Class != ClassInRoot && !alreadyExtraFile(out, rp) {
		out.Manage.ExtraFiles = append(out.Manage.ExtraFiles, rp)
	}

	if err := repo.Stage(ctx, rp); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
	}

	return out, nil
}

// Untrack unstages path (keeping the working-tree copy) and removes
// it from manage.extra_files if present there.
func Untrack(ctx context.Context, repo RepoPort, cfg ConfigFile, path RP) (ConfigFile, error) {
	rp := NormalizeRP(path)
	if err := repo.Unstage(ctx, rp, true); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
	}

	out := cfg
	filtered := out.Manage.ExtraFiles[:0:0]
	for _, f := range out.Manage.ExtraFiles {
		if NormalizeRP(f) != rp {
			filtered = append(filtered, f)
		}
	}
	out.Manage.ExtraFiles = filtered
	return out, nil
}

func alreadyExtraFile(cfg ConfigFile, rp RP) bool {
	for _, f := range cfg.Manage.ExtraFiles {
		if NormalizeRP(f) == rp {
			return true
		}
	}
	return false
}
