package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// ConfigFile is the root TOML configuration object (spec §3, "Configuration (V)").
type ConfigFile struct {
	Repo     RepoConfig     `toml:"repo"`
	Manage   ManageConfig   `toml:"manage"`
	Ignore   IgnoreConfig   `toml:"ignore"`
	Watch    WatchConfig    `toml:"watch"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Secrets  SecretsConfig  `toml:"secrets"`
}

// RepoConfig describes the backing bare repository.
type RepoConfig struct {
	GitDir   string `toml:"git_dir"`
	WorkTree string `toml:"work_tree"`
}

// ManageConfig declares the managed set's roots and extras.
type ManageConfig struct {
	Roots        []string `toml:"roots"`
	ExtraFiles   []string `toml:"extra_files"`
	AllowOutside bool     `toml:"allow_outside"`
}

// IgnoreConfig holds shell-style glob ignore patterns.
type IgnoreConfig struct {
	Patterns []string `toml:"patterns"`
}

// WatchConfig configures the event-driven watcher (C10).
type WatchConfig struct {
	Enabled               bool     `toml:"enabled"`
	DebounceMS            int      `toml:"debounce_ms"`
	AutoStageTrackedOnly  bool     `toml:"auto_stage_tracked_only"`
	AutoAddNew            bool     `toml:"auto_add_new"`
	AutoAddAllowPatterns  []string `toml:"auto_add_allow_patterns"`
}

// SnapshotConfig configures the snapshot command.
type SnapshotConfig struct {
	AutoMessageTemplate string `toml:"auto_message_template"`
}

// SecretsConfig configures the secrets lifecycle (C5).
type SecretsConfig struct {
	Enabled       bool        `toml:"enabled"`
	Backend       string      `toml:"backend"`
	SidecarSuffix string      `toml:"sidecar_suffix"`
	Recipients    []string    `toml:"recipients"`
	IdentityFiles []string    `toml:"identity_files"`
	Rules         []SecretRule `toml:"rules"`
	BackupPolicy  string      `toml:"backup_policy"`
}

// SecretRule declares one plaintext/ciphertext pairing (spec §3).
type SecretRule struct {
	PlaintextPath  RP     `toml:"plaintext_path"`
	CiphertextPath RP     `toml:"ciphertext_path"`
	Mode           int    `toml:"mode"`
}

const (
	minDebounceMS           = 50
	maxAutoAddAllowPatterns = 50
	defaultSidecarSuffix    = ".age"
	defaultBackendAge       = "age"

	backupPolicyEncrypt   = "encrypt"
	backupPolicySkip      = "skip"
	backupPolicyPlaintext = "plaintext"
)

// DefaultConfigFile returns a ConfigFile with the defaults spec §3 implies.
func DefaultConfigFile() ConfigFile {
	return ConfigFile{
		Repo: RepoConfig{
			GitDir:   "~/.local/share/hometree/repo.git",
			WorkTree: "~",
		},
		Manage: ManageConfig{
			Roots:      []string{},
			ExtraFiles: []string{},
		},
		Ignore: IgnoreConfig{Patterns: []string{}},
		Watch: WatchConfig{
			Enabled:              false,
			DebounceMS:           500,
			AutoStageTrackedOnly: false,
			AutoAddNew:           false,
			AutoAddAllowPatterns: []string{},
		},
		Snapshot: SnapshotConfig{},
		Secrets: SecretsConfig{
			Enabled:       false,
			Backend:       defaultBackendAge,
			SidecarSuffix: defaultSidecarSuffix,
			BackupPolicy:  backupPolicyEncrypt,
		},
	}
}

// SidecarPath derives the default ciphertext path for a rule that did
// not declare one explicitly: plaintext_path + sidecar_suffix.
func (r SecretRule) SidecarPath(suffix string) RP {
	if strings.TrimSpace(r.CiphertextPath) != "" {
		return r.CiphertextPath
	}
	return r.PlaintextPath + suffix
}

// FileMode returns the rule's configured mode, or 0o600 by default
// (spec §4.3).
func (r SecretRule) FileMode() int {
	if r.Mode == 0 {
		return 0o600
	}
	return r.Mode
}

// Validate enforces the invariants of spec §3 and normalizes defaults.
// It returns the normalized config (with ciphertext paths filled in and
// secret plaintext paths added to the ignore list) or a ConfigInvalid error.
func (c ConfigFile) Validate() (ConfigFile, error) {
	out := c

	if out.Watch.DebounceMS == 0 {
		out.Watch.DebounceMS = 500
	}
	if out.Watch.DebounceMS < minDebounceMS {
		return ConfigFile{}, NewConfigInvalid("watch.debounce_ms", "must be >= 50")
	}

	if len(out.Watch.AutoAddAllowPatterns) > maxAutoAddAllowPatterns {
		return ConfigFile{}, NewConfigInvalid(
			"watch.auto_add_allow_patterns",
			fmt.Sprintf("must have at most %d entries", maxAutoAddAllowPatterns),
		)
	}
	for _, p := range out.Watch.AutoAddAllowPatterns {
		if err := validateAllowPattern(p); err != nil {
			return ConfigFile{}, NewConfigInvalid("watch.auto_add_allow_patterns", err.Error())
		}
	}

	if out.Secrets.Enabled {
		if out.Secrets.Backend == "" {
			out.Secrets.Backend = defaultBackendAge
		}
		if out.Secrets.Backend != defaultBackendAge {
			return ConfigFile{}, NewConfigInvalid("secrets.backend", `only "age" is supported`)
		}
		if strings.TrimSpace(out.Secrets.SidecarSuffix) == "" {
			out.Secrets.SidecarSuffix = defaultSidecarSuffix
		}
		switch out.Secrets.BackupPolicy {
		case "":
			out.Secrets.BackupPolicy = backupPolicyEncrypt
		case backupPolicyEncrypt, backupPolicySkip, backupPolicyPlaintext:
		default:
			return ConfigFile{}, NewConfigInvalid("secrets.backup_policy", "must be encrypt, skip, or plaintext")
		}

		normalizedRules := make([]SecretRule, 0, len(out.Secrets.Rules))
		ignorePatterns := make([]string, 0, len(out.Secrets.Rules))
		for _, rule := range out.Secrets.Rules {
			if strings.TrimSpace(rule.PlaintextPath) == "" {
				return ConfigFile{}, NewConfigInvalid("secrets.rules[].plaintext_path", "must not be empty")
			}
			rule.CiphertextPath = rule.SidecarPath(out.Secrets.SidecarSuffix)
			normalizedRules = append(normalizedRules, rule)
			ignorePatterns = append(ignorePatterns, rule.PlaintextPath)
		}
		out.Secrets.Rules = normalizedRules
		out.Ignore.Patterns = append(out.Ignore.Patterns, ignorePatterns...)
	}

	return out, nil
}

// BackupPolicyKind maps the config string to the typed enum.
func (c SecretsConfig) BackupPolicyKind() BackupPolicy {
	switch c.BackupPolicy {
	case backupPolicySkip:
		return BackupPolicySkip
	case backupPolicyPlaintext:
		return BackupPolicyPlaintext
	default:
		return BackupPolicyEncrypt
	}
}

// ConfigHash deterministically hashes a validated config so a
// generation record can record which configuration produced it
// (spec §3, "Generation record").
func ConfigHash(cfg ConfigFile) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func validateAllowPattern(p string) error {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return fmt.Errorf("entries must not be empty")
	}
	switch trimmed {
	case "*", "**", "**/*", "*/**", ".**", ".*/**":
		return fmt.Errorf("pattern %q is too broad", trimmed)
	}
	if strings.HasPrefix(trimmed, "/") {
		return fmt.Errorf("pattern %q must not be absolute", trimmed)
	}
	if !strings.Contains(trimmed, "/") && !strings.HasPrefix(trimmed, ".") {
		return fmt.Errorf("pattern %q must contain '/' unless it starts with '.'", trimmed)
	}
	return nil
}
