package usecase

import (
	"context"
	"errors"
	"testing"
)

func testApplyConfig() ConfigFile {
	cfg := DefaultConfigFile()
	cfg.Manage.Roots = []string{".config/"}
	cfg.Manage.ExtraFiles = []string{".bashrc"}
	validated, err := cfg.Validate()
	if err != nil {
		panic(err)
	}
	return validated
}

func newTestApplier(fs *fakeFS, repo *fakeRepo, secrets *SecretsEngine, secretsCfg SecretsConfig) *Applier {
	classifier := NewClassifier(testApplyConfig())
	proc := &fakeProcess{hostname: "host1", user: "alice"}
	return NewApplier(classifier, fs, repo, proc, secrets, secretsCfg, "/home", "/state")
}

func TestApplier_Deploy_CreatesFileAndAppendsGeneration(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	repo.setTree("rev1", map[RP]fakeBlob{
		".config/app.conf": {kind: KindRegular, data: []byte("hello")},
	})
	applier := newTestApplier(fs, repo, nil, SecretsConfig{})

	actions := []PlanAction{
		{Kind: ActionCreate, Path: ".config/app.conf", Entry: KindRegular, Source: &TreeEntry{
			Path: ".config/app.conf", Kind: KindRegular, BlobID: blobKey(fakeBlob{kind: KindRegular, data: []byte("hello")}),
		}},
	}

	result, err := applier.Deploy(ctx, "rev1", actions, DeployOptions{})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.RevisionID != "rev1" {
		t.Errorf("RevisionID = %q, want rev1", result.RevisionID)
	}
	content, err := fs.ReadFile(ctx, "/home/.config/app.conf")
	if err != nil {
		t.Fatalf("read deployed file: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("content = %q, want hello", content)
	}

	records, err := ReadGenerations(ctx, fs, "/state/generations.jsonl")
	if err != nil {
		t.Fatalf("ReadGenerations: %v", err)
	}
	if len(records) != 1 || records[0].RevisionID != "rev1" {
		t.Errorf("expected one generation record for rev1, got %+v", records)
	}
}

func TestApplier_Deploy_BackupsOverwrittenFile(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	repo.setTree("rev1", map[RP]fakeBlob{
		".config/app.conf": {kind: KindRegular, data: []byte("new")},
	})
	if err := fs.WriteFile(ctx, "/home/.config/app.conf", []byte("old"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	applier := newTestApplier(fs, repo, nil, SecretsConfig{})

	actions := []PlanAction{
		{Kind: ActionUpdate, Path: ".config/app.conf", Entry: KindRegular, Source: &TreeEntry{
			Path: ".config/app.conf", Kind: KindRegular, BlobID: blobKey(fakeBlob{kind: KindRegular, data: []byte("new")}),
		}},
	}

	result, err := applier.Deploy(ctx, "rev1", actions, DeployOptions{})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.BackupDir == "" {
		t.Fatal("expected non-empty backup dir")
	}
	backed, err := fs.ReadFile(ctx, fs.Join(result.BackupDir, ".config/app.conf"))
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backed) != "old" {
		t.Errorf("backup content = %q, want old", backed)
	}
}

func TestApplier_Deploy_NoBackupSkipsBackupDir(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	repo.setTree("rev1", map[RP]fakeBlob{
		".config/app.conf": {kind: KindRegular, data: []byte("new")},
	})
	if err := fs.WriteFile(ctx, "/home/.config/app.conf", []byte("old"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	applier := newTestApplier(fs, repo, nil, SecretsConfig{})

	actions := []PlanAction{
		{Kind: ActionUpdate, Path: ".config/app.conf", Entry: KindRegular, Source: &TreeEntry{
			Path: ".config/app.conf", Kind: KindRegular, BlobID: blobKey(fakeBlob{kind: KindRegular, data: []byte("new")}),
		}},
	}

	result, err := applier.Deploy(ctx, "rev1", actions, DeployOptions{NoBackup: true})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.BackupDir != "" {
		t.Errorf("expected no backup dir, got %q", result.BackupDir)
	}
}

func TestApplier_ApplyOne_DirectoryInTheWayRefused(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	if err := fs.CreateDir(ctx, "/home/.config/app.conf", 0o755); err != nil {
		t.Fatalf("seed dir: %v", err)
	}
	applier := newTestApplier(fs, repo, nil, SecretsConfig{})

	actions := []PlanAction{
		{Kind: ActionUpdate, Path: ".config/app.conf", Entry: KindRegular, Source: &TreeEntry{
			Path: ".config/app.conf", Kind: KindRegular, BlobID: "whatever",
		}},
	}
	_, err := applier.Deploy(ctx, "rev1", actions, DeployOptions{})
	if !errors.Is(err, ErrDirectoryInTheWay) {
		t.Fatalf("expected ErrDirectoryInTheWay, got %v", err)
	}
}

func TestApplier_ApplyOne_SymlinkContainmentRefused(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	applier := newTestApplier(fs, repo, nil, SecretsConfig{})

	actions := []PlanAction{
		{Kind: ActionCreate, Path: ".config/link", Entry: KindSymlink, Source: &TreeEntry{
			Path: ".config/link", Kind: KindSymlink, SymlinkTarget: "../../etc/passwd",
		}},
	}
	_, err := applier.Deploy(ctx, "rev1", actions, DeployOptions{})
	if !errors.Is(err, ErrSymlinkEscapesHome) {
		t.Fatalf("expected ErrSymlinkEscapesHome, got %v", err)
	}
}

func TestApplier_ApplyOne_DeletesRemovedFile(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	if err := fs.WriteFile(ctx, "/home/.config/stale.conf", []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	applier := newTestApplier(fs, repo, nil, SecretsConfig{})

	actions := []PlanAction{{Kind: ActionDelete, Path: ".config/stale.conf"}}
	if _, err := applier.Deploy(ctx, "rev1", actions, DeployOptions{}); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if _, err := fs.Lstat(ctx, "/home/.config/stale.conf"); !fs.IsNotExist(err) {
		t.Errorf("expected stale.conf to be removed, err=%v", err)
	}
}

func TestApplier_Deploy_WritesSecretPlaintextAfterCiphertextDeploy(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	secretsCfg := SecretsConfig{
		Enabled:       true,
		SidecarSuffix: ".age",
		Recipients:    []string{"recipient1"},
		IdentityFiles: []string{"identities.txt"},
		Rules:         []SecretRule{{PlaintextPath: ".ssh/id_ed25519", CiphertextPath: ".ssh/id_ed25519.age"}},
	}
	secrets := NewSecretsEngine(fakeSecrets{}, fs, repo, secretsCfg, "/home")

	classifier := NewClassifier(mustValidate(ConfigFile{
		Manage: ManageConfig{Roots: []string{".config/"}},
		Secrets: secretsCfg,
	}))
	proc := &fakeProcess{hostname: "h", user: "u"}
	applier := NewApplier(classifier, fs, repo, proc, secrets, secretsCfg, "/home", "/state")

	ciphertext := xorBytes([]byte("secret-key-data"))
	actions := []PlanAction{
		{Kind: ActionCreate, Path: ".ssh/id_ed25519.age", Entry: KindRegular, Source: &TreeEntry{
			Path: ".ssh/id_ed25519.age", Kind: KindRegular, BlobID: blobKey(fakeBlob{kind: KindRegular, data: ciphertext}),
		}},
	}
	repo.setTree("rev1", map[RP]fakeBlob{".ssh/id_ed25519.age": {kind: KindRegular, data: ciphertext}})

	if _, err := applier.Deploy(ctx, "rev1", actions, DeployOptions{}); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	plaintext, err := fs.ReadFile(ctx, "/home/.ssh/id_ed25519")
	if err != nil {
		t.Fatalf("read plaintext: %v", err)
	}
	if string(plaintext) != "secret-key-data" {
		t.Errorf("plaintext = %q, want secret-key-data", plaintext)
	}
}

func mustValidate(cfg ConfigFile) ConfigFile {
	validated, err := cfg.Validate()
	if err != nil {
		panic(err)
	}
	return validated
}
