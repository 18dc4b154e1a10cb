package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SnapshotGuard enforces spec §4.3's "Snapshot guard": before commit,
// every secret rule's plaintext path must have index status
// unchanged, untracked, or ignored. Any other status means plaintext
// content is about to be committed, so snapshot refuses.
func SnapshotGuard(ctx context.Context, repo RepoPort, rules []SecretRule) error {
	for _, rule := range rules {
		status, err := repo.IndexStatus(ctx, NormalizeRP(rule.PlaintextPath))
		if err != nil {
			return err
		}
		switch status {
		case StatusUnchanged, StatusUntracked, StatusIgnored:
			continue
		default:
			return fmt.Errorf("%w: %s has index status %s", ErrPlaintextStaged, rule.PlaintextPath, status)
		}
	}
	return nil
}

// Snapshot runs the guard then commits the current index (spec §4.3,
// §8 "Snapshot purity").
func Snapshot(ctx context.Context, repo RepoPort, rules []SecretRule, message string) (revisionID string, err error) {
	if err := SnapshotGuard(ctx, repo, rules); err != nil {
		return "", err
	}
	return repo.Commit(ctx, message)
}

// ResolveAutoMessage renders snapshot.auto_message_template for
// `snapshot --auto`, substituting "{date}" with the current UTC time
// in RFC3339 and "{host}" with the local hostname (spec §3: the
// template is required when --auto is invoked).
func ResolveAutoMessage(template string, now time.Time, host string) string {
	r := strings.NewReplacer(
		"{date}", now.UTC().Format(time.RFC3339),
		"{host}", host,
	)
	return r.Replace(template)
}
