package usecase

import (
	"context"
	"errors"
	"testing"
)

func TestTrack_InRootStagesWithoutConfigMutation(t *testing.T) {
	ctx := context.Background()
	cfg := testApplyConfig()
	repo := newFakeRepo()
	classifier := NewClassifier(cfg)

	out, err := Track(ctx, classifier, repo, cfg, ".config/nvim/init.lua", TrackOptions{})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if len(out.Manage.ExtraFiles) != len(cfg.Manage.ExtraFiles) {
		t.Errorf("expected extra_files unchanged for in-root path, got %v", out.Manage.ExtraFiles)
	}
	if !containsRP(repo.staged, ".config/nvim/init.lua") {
		t.Errorf("expected path staged, got %v", repo.staged)
	}
}

func TestTrack_OutsideAllowedAddsExtraFile(t *testing.T) {
	ctx := context.Background()
	cfg := testApplyConfig()
	repo := newFakeRepo()
	classifier := NewClassifier(cfg)

	out, err := Track(ctx, classifier, repo, cfg, "Documents/report.pdf", TrackOptions{AllowOutside: true})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if !containsString(out.Manage.ExtraFiles, "Documents/report.pdf") {
		t.Errorf("expected Documents/report.pdf added to extra_files, got %v", out.Manage.ExtraFiles)
	}
}

func TestTrack_OutsideDisallowedReturnsError(t *testing.T) {
	ctx := context.Background()
	cfg := testApplyConfig()
	repo := newFakeRepo()
	classifier := NewClassifier(cfg)

	_, err := Track(ctx, classifier, repo, cfg, "Documents/report.pdf", TrackOptions{})
	if !errors.Is(err, ErrPathOutsideHome) {
		t.Fatalf("expected ErrPathOutsideHome, got %v", err)
	}
}

func TestTrack_SecretPlaintextRejected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	repo := newFakeRepo()
	classifier := NewClassifier(cfg)

	_, err := Track(ctx, classifier, repo, cfg, ".ssh/id_ed25519", TrackOptions{})
	if !errors.Is(err, ErrPathIsSecret) {
		t.Fatalf("expected ErrPathIsSecret, got %v", err)
	}
}

func TestTrack_IgnoredRequiresForce(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	repo := newFakeRepo()
	classifier := NewClassifier(cfg)

	_, err := Track(ctx, classifier, repo, cfg, ".config/cache/foo.bin", TrackOptions{})
	if !errors.Is(err, ErrPathIsDenylisted) {
		t.Fatalf("expected ErrPathIsDenylisted, got %v", err)
	}

	out, err := Track(ctx, classifier, repo, cfg, ".config/cache/foo.bin", TrackOptions{Force: true})
	if err != nil {
		t.Fatalf("Track with Force: %v", err)
	}
	if !containsRP(repo.staged, ".config/cache/foo.bin") {
		t.Errorf("expected forced path staged, got %v", repo.staged)
	}
	_ = out
}

func TestUntrack_UnstagesAndRemovesFromExtraFiles(t *testing.T) {
	ctx := context.Background()
	cfg := testApplyConfig()
	cfg.Manage.ExtraFiles = append(cfg.Manage.ExtraFiles, "Documents/report.pdf")
	repo := newFakeRepo()
	repo.statuses["Documents/report.pdf"] = StatusAdded

	out, err := Untrack(ctx, repo, cfg, "Documents/report.pdf")
	if err != nil {
		t.Fatalf("Untrack: %v", err)
	}
	if containsString(out.Manage.ExtraFiles, "Documents/report.pdf") {
		t.Errorf("expected Documents/report.pdf removed from extra_files, got %v", out.Manage.ExtraFiles)
	}
	st, err := repo.IndexStatus(ctx, "Documents/report.pdf")
	if err != nil {
		t.Fatalf("IndexStatus: %v", err)
	}
	if st != StatusUntracked {
		t.Errorf("status = %v, want Untracked", st)
	}
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
