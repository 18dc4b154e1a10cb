package main

import (
	"os"
	"path/filepath"
	"strings"
)

// expandHome expands a leading "~", "~/", "$HOME" or "${HOME}" in p
// against home. Path/XDG resolution is treated as an external
// collaborator by the core (spec §1); this helper exists only so the
// CLI front-end can turn the human-friendly paths config.toml allows
// into absolute ones before handing them to the core's ports.
func expandHome(p, home string) string {
	switch {
	case p == "~":
		return home
	case strings.HasPrefix(p, "~/"):
		return filepath.Join(home, p[2:])
	default:
		r := strings.NewReplacer("${HOME}", home, "$HOME", home)
		return r.Replace(p)
	}
}

// rootPaths bundles the filesystem locations the CLI resolves once
// per invocation from environment variables and the global
// --home-root/--xdg-root flags (spec §6: "Global flags --home-root
// and --xdg-root redirect path resolution, also honored via
// environment variables with the same meaning").
type rootPaths struct {
	HomeRoot   string
	ConfigPath string
	StateDir   string
	RuntimeDir string
}

func resolveRootPaths(homeRootFlag, xdgRootFlag string) (rootPaths, error) {
	homeRoot := firstNonEmpty(homeRootFlag, os.Getenv("HOMETREE_HOME_ROOT"))
	if homeRoot == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return rootPaths{}, err
		}
		homeRoot = h
	}

	xdgRoot := firstNonEmpty(xdgRootFlag, os.Getenv("HOMETREE_XDG_ROOT"))

	configHome := firstNonEmpty(xdgRoot, os.Getenv("XDG_CONFIG_HOME"))
	if configHome == "" {
		configHome = filepath.Join(homeRoot, ".config")
	}
	stateHome := firstNonEmpty(xdgRoot, os.Getenv("XDG_STATE_HOME"))
	if stateHome == "" {
		stateHome = filepath.Join(homeRoot, ".local", "state")
	}
	runtimeHome := firstNonEmpty(
		os.Getenv("HOMETREE_RUNTIME_DIR"),
		xdgRoot,
		os.Getenv("XDG_RUNTIME_DIR"),
	)
	if runtimeHome == "" {
		runtimeHome = filepath.Join(os.TempDir(), "hometree-runtime")
	}

	return rootPaths{
		HomeRoot:   homeRoot,
		ConfigPath: filepath.Join(configHome, "hometree", "config.toml"),
		StateDir:   filepath.Join(stateHome, "hometree"),
		RuntimeDir: filepath.Join(runtimeHome, "hometree"),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
