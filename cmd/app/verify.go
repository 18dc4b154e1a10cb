package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/reidond/hometree/internal/usecase"
)

func newVerifyCmd(flags *globalFlags, exitCode *int) *cobra.Command {
	var rev string
	var strict bool
	var withSecrets string
	var jsonOut bool
	var showPaths bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare live filesystem state against a target revision",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := setupLogger(flags.verbose)
			handleCmdError(exitCode, runVerify(cmd, logger, flags, rev, strict, withSecrets, jsonOut, showPaths))
		},
	}
	cmd.Flags().StringVar(&rev, "rev", "HEAD", "target revision")
	cmd.Flags().BoolVar(&strict, "strict", false, "also flag unexpected files present live but absent from the tree")
	cmd.Flags().StringVar(&withSecrets, "with-secrets", "skip", "secrets mode: skip|presence|decrypt")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the report as JSON")
	cmd.Flags().BoolVar(&showPaths, "show-paths", false, "do not redact secret plaintext paths in the report")
	return cmd
}

func parseSecretsMode(s string) (usecase.SecretsMode, error) {
	switch s {
	case "", "skip":
		return usecase.SecretsModeSkip, nil
	case "presence":
		return usecase.SecretsModePresence, nil
	case "decrypt":
		return usecase.SecretsModeDecrypt, nil
	default:
		return 0, fmt.Errorf("%w: --with-secrets must be skip|presence|decrypt, got %q", usecase.ErrUsage, s)
	}
}

func runVerify(cmd *cobra.Command, logger *slog.Logger, flags *globalFlags, rev string, strict bool, withSecrets string, jsonOut, showPaths bool) error {
	ctx := cmd.Context()
	rc, err := loadRunContext(ctx, logger, flags.homeRoot, flags.xdgRoot)
	if err != nil {
		return err
	}

	mode, err := parseSecretsMode(withSecrets)
	if err != nil {
		return err
	}

	revisionID, err := rc.Deps.Repo.Resolve(ctx, rev)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", usecase.ErrCritical, rev, err)
	}

	report, err := rc.Verifier.Verify(ctx, revisionID, usecase.VerifyOptions{
		Strict:      strict,
		SecretsMode: mode,
		Rules:       rc.Config.Secrets.Rules,
	})
	if err != nil {
		return err
	}

	if !showPaths {
		usecase.RedactReport(report, rc.Config.Secrets.Rules)
	}

	printVerifyReport(ctx, cmd, report, jsonOut)

	if !report.Clean() {
		return fmt.Errorf("%w: drift detected against %s", errDrift, revisionID)
	}
	return nil
}

// errDrift carries a non-zero exit without usage/critical semantics;
// verify's exit code 1 on drift is the only "non-zero but expected"
// outcome in the CLI surface (spec §6, "Verify with drift exits 1").
var errDrift = fmt.Errorf("drift")

type verifyReportJSON struct {
	Revision string                `json:"revision"`
	Drifts   []driftEntryJSON      `json:"drifts"`
	Secrets  []secretStatusJSON    `json:"secrets"`
	Clean    bool                  `json:"clean"`
}

type driftEntryJSON struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	Note string `json:"note,omitempty"`
}

type secretStatusJSON struct {
	PlaintextPath string `json:"plaintext_path"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

func driftKindString(k usecase.DriftKind) string {
	switch k {
	case usecase.DriftMissingLive:
		return "missing-live"
	case usecase.DriftContentDiffers:
		return "content-differs"
	case usecase.DriftExecutableBitDiffers:
		return "executable-bit-differs"
	case usecase.DriftUnexpectedFile:
		return "unexpected-file"
	case usecase.DriftSecretIssue:
		return "secret-issue"
	default:
		return "unknown"
	}
}

func printVerifyReport(_ context.Context, cmd *cobra.Command, report *usecase.VerifyReport, jsonOut bool) {
	out := cmd.OutOrStdout()
	if jsonOut {
		payload := verifyReportJSON{Revision: report.Revision, Clean: report.Clean()}
		for _, d := range report.Drifts {
			payload.Drifts = append(payload.Drifts, driftEntryJSON{Path: d.Path, Kind: driftKindString(d.Kind), Note: d.Note})
		}
		for _, s := range report.Secrets {
			entry := secretStatusJSON{PlaintextPath: s.Rule.PlaintextPath, Status: s.Kind.String()}
			if s.Err != nil {
				entry.Error = s.Err.Error()
			}
			payload.Secrets = append(payload.Secrets, entry)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(payload)
		return
	}

	for _, d := range report.Drifts {
		fmt.Fprintf(out, "%s %s: %s\n", driftKindString(d.Kind), d.Path, d.Note)
	}
	for _, s := range report.Secrets {
		if s.Kind == usecase.SecretInSync {
			continue
		}
		fmt.Fprintf(out, "secret %s: %s\n", s.Rule.PlaintextPath, s.Kind)
	}
	if report.Clean() {
		fmt.Fprintln(out, "clean")
	}
}
