package usecase

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSnapshotGuard_AllowsUnchangedUntrackedIgnored(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	rules := []SecretRule{
		{PlaintextPath: "a"},
		{PlaintextPath: "b"},
		{PlaintextPath: "c"},
	}
	repo.statuses["a"] = StatusUnchanged
	repo.statuses["b"] = StatusUntracked
	repo.statuses["c"] = StatusIgnored

	if err := SnapshotGuard(ctx, repo, rules); err != nil {
		t.Fatalf("expected guard to pass, got %v", err)
	}
}

func TestSnapshotGuard_RefusesStagedPlaintext(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	rules := []SecretRule{{PlaintextPath: "a"}}
	repo.statuses["a"] = StatusAdded

	err := SnapshotGuard(ctx, repo, rules)
	if !errors.Is(err, ErrPlaintextStaged) {
		t.Fatalf("expected ErrPlaintextStaged, got %v", err)
	}
}

func TestSnapshot_CommitsWhenGuardPasses(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	rules := []SecretRule{{PlaintextPath: "a"}}
	repo.statuses["a"] = StatusUnchanged

	rev, err := Snapshot(ctx, repo, rules, "a message")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if rev != "rev1" {
		t.Errorf("rev = %q, want rev1", rev)
	}
	if len(repo.commits) != 1 {
		t.Errorf("expected one commit, got %d", len(repo.commits))
	}
}

func TestSnapshot_RefusesAndDoesNotCommitWhenGuardFails(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	rules := []SecretRule{{PlaintextPath: "a"}}
	repo.statuses["a"] = StatusModified

	_, err := Snapshot(ctx, repo, rules, "msg")
	if !errors.Is(err, ErrPlaintextStaged) {
		t.Fatalf("expected ErrPlaintextStaged, got %v", err)
	}
	if len(repo.commits) != 0 {
		t.Errorf("expected no commit on guard failure, got %d", len(repo.commits))
	}
}

func TestResolveAutoMessage_SubstitutesDateAndHost(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got := ResolveAutoMessage("snapshot on {date} from {host}", now, "myhost")
	want := "snapshot on " + now.Format(time.RFC3339) + " from myhost"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveAutoMessage_NoPlaceholders(t *testing.T) {
	now := time.Now()
	got := ResolveAutoMessage("plain message", now, "host")
	if got != "plain message" {
		t.Errorf("got %q, want unchanged message", got)
	}
}
