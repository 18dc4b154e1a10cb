package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/reidond/hometree/internal/usecase"
)

// Adapter implements ConfigPort using TOML files on disk.
type Adapter struct {
	logger *slog.Logger
}

// New creates a new config adapter.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		panic("config adapter requires logger")
	}
	return &Adapter{logger: logger}
}

// Load reads config from path or returns defaults when file is missing.
func (a *Adapter) Load(ctx context.Context, path string) (usecase.ConfigFile, error) {
	_ = ctx
	if strings.TrimSpace(path) == "" {
		return usecase.ConfigFile{}, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is controlled by usecase
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return usecase.DefaultConfigFile(), nil
		}
		return usecase.ConfigFile{}, err
	}

	cfg := usecase.DefaultConfigFile()
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return usecase.ConfigFile{}, fmt.Errorf("parse config toml: %w", err)
	}

	return cfg, nil
}

// Save writes config to path in TOML format with inline documentation.
func (a *Adapter) Save(ctx context.Context, path string, cfg usecase.ConfigFile) error {
	_ = ctx
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is empty")
	}

	content := renderCommentedTOML(cfg) + renderRules(cfg.Secrets.Rules)

	// #nosec G306 G304 - config is not secret, path is controlled by usecase.
	return os.WriteFile(path, []byte(content), 0o644)
}

//nolint:lll // template readability is more important than line length.
func renderCommentedTOML(cfg usecase.ConfigFile) string {
	return fmt.Sprintf(`# hometree configuration
# https://github.com/reidond/hometree#configuration

# ── Backing repository ───────────────────────────────────────────
[repo]

# Directory holding the repository metadata, separate from work_tree.
# Supports ~, $HOME, ${HOME}. Created automatically by 'hometree init'.
git_dir = %[1]q

# The home directory this repository tracks.
work_tree = %[2]q

# ── Managed set ───────────────────────────────────────────────────
[manage]

# Directories (relative to work_tree) whose entire contents are
# managed by default, subject to [ignore] patterns.
roots = %[3]s

# Individual files outside any root that are also tracked.
extra_files = %[4]s

# Allow 'track' to add paths outside every root and outside
# extra_files; either this or --allow-outside on the command line
# is enough.
allow_outside = %[5]t

# ── Ignore patterns ───────────────────────────────────────────────
[ignore]

# Shell-style glob patterns (relative to work_tree) excluded from the
# managed set even when they fall under a managed root.
patterns = %[6]s

# ── Event-driven watcher ──────────────────────────────────────────
[watch]

# Enable the background watcher daemon.
enabled = %[7]t

# Debounce window in milliseconds before a changed path is staged.
debounce_ms = %[8]d

# When true, only already-tracked paths are auto-staged; new files
# require 'track' (or auto_add_new below) before the watcher picks
# them up.
auto_stage_tracked_only = %[9]t

# Allow the watcher to automatically track new files matching
# auto_add_allow_patterns, without an explicit 'track' call.
auto_add_new = %[10]t

# Glob patterns (relative to work_tree) eligible for auto-add. Must
# not be empty or root-wide; see hometree's validation rules.
auto_add_allow_patterns = %[11]s

# ── Snapshot ──────────────────────────────────────────────────────
[snapshot]

# Message template for 'snapshot --auto'. Supports {date} and {host}.
auto_message_template = %[12]q

# ── Secrets lifecycle ─────────────────────────────────────────────
[secrets]

# Enable age-encrypted secret sidecars.
enabled = %[13]t

# Only "age" is currently supported.
backend = %[14]q

# Suffix appended to a plaintext path to derive its sidecar path when
# a rule does not declare ciphertext_path explicitly.
sidecar_suffix = %[15]q

# age1... public keys secrets are encrypted to.
recipients = %[16]s

# Paths to files containing AGE-SECRET-KEY- identities, used to
# decrypt during deploy/rollback and 'secret' commands.
identity_files = %[17]s

# How deploy backs up plaintext before overwriting it: "encrypt"
# (default, re-encrypts into the backup set), "skip", or "plaintext".
backup_policy = %[18]q

# [[secrets.rules]] blocks declare individual plaintext/ciphertext
# pairs, e.g.:
#   [[secrets.rules]]
#   plaintext_path = ".ssh/id_ed25519"
#   mode = 0o600
`,
		cfg.Repo.GitDir,
		cfg.Repo.WorkTree,
		renderStringSlice(cfg.Manage.Roots),
		renderStringSlice(cfg.Manage.ExtraFiles),
		cfg.Manage.AllowOutside,
		renderStringSlice(cfg.Ignore.Patterns),
		cfg.Watch.Enabled,
		cfg.Watch.DebounceMS,
		cfg.Watch.AutoStageTrackedOnly,
		cfg.Watch.AutoAddNew,
		renderStringSlice(cfg.Watch.AutoAddAllowPatterns),
		cfg.Snapshot.AutoMessageTemplate,
		cfg.Secrets.Enabled,
		cfg.Secrets.Backend,
		cfg.Secrets.SidecarSuffix,
		renderStringSlice(cfg.Secrets.Recipients),
		renderStringSlice(cfg.Secrets.IdentityFiles),
		cfg.Secrets.BackupPolicy,
	)
}

func renderRules(rules []usecase.SecretRule) string {
	if len(rules) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range rules {
		b.WriteString("\n[[secrets.rules]]\n")
		fmt.Fprintf(&b, "plaintext_path = %q\n", r.PlaintextPath)
		if strings.TrimSpace(r.CiphertextPath) != "" {
			fmt.Fprintf(&b, "ciphertext_path = %q\n", r.CiphertextPath)
		}
		if r.Mode != 0 {
			fmt.Fprintf(&b, "mode = %d\n", r.Mode)
		}
	}
	return b.String()
}

func renderStringSlice(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
