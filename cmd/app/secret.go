package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/reidond/hometree/internal/usecase"
)

func newSecretCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted secret sidecars",
	}
	cmd.AddCommand(newSecretAddCmd(flags, exitCode))
	cmd.AddCommand(newSecretRefreshCmd(flags, exitCode))
	cmd.AddCommand(newSecretStatusCmd(flags, exitCode))
	cmd.AddCommand(newSecretRekeyCmd(flags, exitCode))
	return cmd
}

func requireSecretsEngine(rc *runContext) (*usecase.SecretsEngine, error) {
	if rc.Secrets == nil {
		return nil, fmt.Errorf("%w: secrets.enabled is false", usecase.ErrConfigInvalid)
	}
	return rc.Secrets, nil
}

func newSecretAddCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>",
		Short: "Declare a new secret rule, encrypt it, and ignore the plaintext",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runSecretAdd(cmd, logger, flags, args[0]))
		},
	}
}

func runSecretAdd(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, path string) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}
	engine, err := requireSecretsEngine(rc)
	if err != nil {
		return err
	}

	return withRepoLock(ctx, rc, func() error {
		rp := usecase.NormalizeRP(path)
		rule := usecase.SecretRule{PlaintextPath: rp}
		rule.CiphertextPath = rule.SidecarPath(rc.Config.Secrets.SidecarSuffix)

		if err := engine.Encrypt(ctx, rule); err != nil {
			return err
		}

		cfg := rc.Config
		cfg.Secrets.Rules = append(cfg.Secrets.Rules, rule)
		cfg.Ignore.Patterns = append(cfg.Ignore.Patterns, rp)
		if err := rc.saveConfig(ctx, cfg); err != nil {
			return fmt.Errorf("%w: %v", usecase.ErrCritical, err)
		}
		if err := writeExcludesFile(ctx, rc, rc.excludesPath(), cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added secret %s -> %s\n", rp, rule.CiphertextPath)
		return nil
	})
}

func newSecretRefreshCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [<path>...]",
		Short: "Re-encrypt secret rules whose plaintext has changed and stage the result",
		Args:  cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runSecretRefresh(cmd, logger, flags, args))
		},
	}
}

func runSecretRefresh(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, paths []string) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}
	engine, err := requireSecretsEngine(rc)
	if err != nil {
		return err
	}

	return withRepoLock(ctx, rc, func() error {
		return engine.Refresh(ctx, selectSecretRules(rc.Config.Secrets.Rules, paths))
	})
}

func newSecretStatusCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	var showPaths bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare each secret rule's plaintext to its decrypted ciphertext",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runSecretStatus(cmd, logger, flags, showPaths))
		},
	}
	cmd.Flags().BoolVar(&showPaths, "show-paths", false, "do not redact plaintext paths in the report")
	return cmd
}

func runSecretStatus(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, showPaths bool) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}
	engine, err := requireSecretsEngine(rc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, rule := range rc.Config.Secrets.Rules {
		status := engine.Status(ctx, rule)
		label := rule.PlaintextPath
		if !showPaths {
			label = usecase.RedactPath
		}
		fmt.Fprintf(out, "%s: %s\n", label, status.Kind)
	}
	return nil
}

func newSecretRekeyCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "rekey",
		Short: "Decrypt every rule with the current identities and re-encrypt to current recipients",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runSecretRekey(cmd, logger, flags))
		},
	}
}

func runSecretRekey(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}
	engine, err := requireSecretsEngine(rc)
	if err != nil {
		return err
	}

	return withRepoLock(ctx, rc, func() error {
		return engine.Rekey(ctx, rc.Config.Secrets.Rules)
	})
}

func selectSecretRules(rules []usecase.SecretRule, paths []string) []usecase.SecretRule {
	if len(paths) == 0 {
		return rules
	}
	want := make(map[usecase.RP]struct{}, len(paths))
	for _, p := range paths {
		want[usecase.NormalizeRP(p)] = struct{}{}
	}
	var out []usecase.SecretRule
	for _, r := range rules {
		if _, ok := want[usecase.NormalizeRP(r.PlaintextPath)]; ok {
			out = append(out, r)
		}
	}
	return out
}
