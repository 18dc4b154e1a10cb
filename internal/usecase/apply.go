package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Applier executes a deploy plan with type-transition guards, symlink
// containment, metadata preservation, backups, and an append to the
// generations log (spec §4.5, component C7).
type Applier struct {
	Classifier *Classifier
	FileSystem FileSystemPort
	Repo       RepoPort
	Process    ProcessPort
	Secrets    *SecretsEngine // nil when secrets.enabled is false
	SecretsCfg SecretsConfig
	HomeRoot   string
	StateDir   string
}

// NewApplier builds an Applier.
func NewApplier(classifier *Classifier, fsys FileSystemPort, repo RepoPort, proc ProcessPort, secrets *SecretsEngine, secretsCfg SecretsConfig, homeRoot, stateDir string) *Applier {
	return &Applier{
		Classifier: classifier,
		FileSystem: fsys,
		Repo:       repo,
		Process:    proc,
		Secrets:    secrets,
		SecretsCfg: secretsCfg,
		HomeRoot:   homeRoot,
		StateDir:   stateDir,
	}
}

// DeployOptions controls a single deploy/rollback invocation.
type DeployOptions struct {
	Message    string
	NoSecrets  bool
	NoBackup   bool
	Rollback   bool
	ConfigHash string
}

// DeployResult is the outcome of a successful Deploy.
type DeployResult struct {
	RevisionID string
	BackupDir  string
	Applied    []PlanAction
	Generation GenerationRecord
}

type fileCategory int

const (
	categoryFile fileCategory = iota
	categorySymlink
	categoryDirectory
)

func categoryOf(k EntryKind) fileCategory {
	switch k {
	case KindSymlink:
		return categorySymlink
	case KindDirectory:
		return categoryDirectory
	default:
		return categoryFile
	}
}

// Deploy runs all three phases of spec §4.5 against an already
// computed plan. A failure aborts immediately; phases already applied
// are not rolled back automatically, and no generation record is
// appended for a partial apply (spec §3 invariant 5, §8 "Deploy
// convergence").
func (a *Applier) Deploy(ctx context.Context, revisionID string, actions []PlanAction, opts DeployOptions) (*DeployResult, error) {
	var backupDir string
	if !opts.NoBackup {
		dir, err := a.backup(ctx, actions, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
		}
		backupDir = dir
	}

	for _, action := range actions {
		if err := a.applyOne(ctx, action, opts); err != nil {
			return nil, err
		}
	}

	host, _ := a.Process.Hostname()
	user, _ := a.Process.CurrentUser()
	gen := GenerationRecord{
		Timestamp:      time.Now().UTC(),
		RevisionID:     revisionID,
		Host:           host,
		User:           user,
		Message:        opts.Message,
		ConfigHash:     opts.ConfigHash,
		BackupDir:      backupDir,
		ActionsSummary: summarizeActions(actions),
		Rollback:       opts.Rollback,
	}
	genPath := a.FileSystem.Join(a.StateDir, "generations.jsonl")
	if err := AppendGeneration(ctx, a.FileSystem, genPath, gen); err != nil {
		return nil, fmt.Errorf("append generation record: %w", err)
	}

	return &DeployResult{RevisionID: revisionID, BackupDir: backupDir, Applied: actions, Generation: gen}, nil
}

func summarizeActions(actions []PlanAction) string {
	var creates, updates, deletes int
	for _, a := range actions {
		switch a.Kind {
		case ActionCreate:
			creates++
		case ActionUpdate:
			updates++
		case ActionDelete:
			deletes++
		}
	}
	return fmt.Sprintf("create=%d update=%d delete=%d", creates, updates, deletes)
}

// backup copies the current live state of every path the plan will
// overwrite or delete into a fresh timestamped backup set (spec §4.5
// phase 1), including the plaintext counterpart of any secret
// ciphertext sidecar in the plan, per secrets.backup_policy.
func (a *Applier) backup(ctx context.Context, actions []PlanAction, opts DeployOptions) (string, error) {
	backupDir := a.FileSystem.Join(a.StateDir, "backups", time.Now().UTC().Format("20060102T150405Z"))
	if err := a.FileSystem.CreateDir(ctx, backupDir, 0o755); err != nil {
		return "", err
	}

	for _, action := range actions {
		if action.Kind == ActionCreate {
			continue
		}
		livePath := a.FileSystem.Join(a.HomeRoot, action.Path)
		info, err := a.FileSystem.Lstat(ctx, livePath)
		if err != nil {
			if a.FileSystem.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := a.backupOne(ctx, action.Path, livePath, info, backupDir); err != nil {
			return "", err
		}

		if a.Secrets != nil && !opts.NoSecrets {
			if rule, ok := a.Classifier.SecretRuleForCiphertext(action.Path); ok {
				if err := a.backupSecretPlaintext(ctx, rule, backupDir); err != nil {
					return "", err
				}
			}
		}
	}

	return backupDir, nil
}

func (a *Applier) backupOne(ctx context.Context, rp RP, livePath string, info FileInfo, backupDir string) error {
	dest := a.FileSystem.Join(backupDir, rp)
	if err := a.FileSystem.CreateDir(ctx, a.FileSystem.Dir(dest), 0o755); err != nil {
		return err
	}
	if info.IsSymlink() {
		target, err := a.FileSystem.Readlink(ctx, livePath)
		if err != nil {
			return err
		}
		return a.FileSystem.Symlink(ctx, target, dest)
	}
	if info.IsDir() {
		return nil
	}
	return a.FileSystem.Copy(ctx, livePath, dest)
}

func (a *Applier) backupSecretPlaintext(ctx context.Context, rule SecretRule, backupDir string) error {
	plainPath := a.FileSystem.Join(a.HomeRoot, rule.PlaintextPath)
	plaintext, err := a.FileSystem.ReadFile(ctx, plainPath)
	if err != nil {
		if a.FileSystem.IsNotExist(err) {
			return nil
		}
		return err
	}

	switch a.SecretsCfg.BackupPolicyKind() {
	case BackupPolicySkip:
		return nil
	case BackupPolicyPlaintext:
		dest := a.FileSystem.Join(backupDir, rule.PlaintextPath)
		if err := a.FileSystem.CreateDir(ctx, a.FileSystem.Dir(dest), 0o755); err != nil {
			return err
		}
		return a.FileSystem.AtomicWriteFile(ctx, dest, plaintext, rule.FileMode())
	default: // BackupPolicyEncrypt
		ciphertext, err := a.Secrets.EncryptBytes(ctx, plaintext)
		if err != nil {
			return err
		}
		dest := a.FileSystem.Join(backupDir, rule.SidecarPath(a.SecretsCfg.SidecarSuffix))
		if err := a.FileSystem.CreateDir(ctx, a.FileSystem.Dir(dest), 0o755); err != nil {
			return err
		}
		return a.FileSystem.AtomicWriteFile(ctx, dest, ciphertext, rule.FileMode())
	}
}

// applyOne executes a single plan action under the type-transition
// policy and symlink containment rules of spec §4.5.
func (a *Applier) applyOne(ctx context.Context, action PlanAction, opts DeployOptions) error {
	livePath := a.FileSystem.Join(a.HomeRoot, action.Path)

	if action.Kind == ActionDelete {
		if _, err := a.FileSystem.Lstat(ctx, livePath); err != nil {
			if a.FileSystem.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := a.FileSystem.Remove(ctx, livePath); err != nil {
			return fmt.Errorf("%w: delete %s: %v", ErrWriteFailed, action.Path, err)
		}
		return nil
	}

	entry := action.Source
	if entry == nil {
		return fmt.Errorf("%w: missing source entry for %s", ErrWriteFailed, action.Path)
	}
	targetCat := categoryOf(entry.Kind)

	liveInfo, err := a.FileSystem.Lstat(ctx, livePath)
	liveExists := err == nil
	if err != nil && !a.FileSystem.IsNotExist(err) {
		return err
	}

	var priorUID, priorGID int
	var hasPriorOwner bool
	var priorMTime time.Time
	var hasPriorMTime bool

	if liveExists {
		liveCat := categoryOf(EntryKindFromInfo(liveInfo))

		if liveCat == categoryDirectory && targetCat != categoryDirectory {
			return fmt.Errorf("%w: %s", ErrDirectoryInTheWay, action.Path)
		}
		if liveCat != categoryDirectory && targetCat == categoryDirectory {
			return fmt.Errorf("%w: %s", ErrFileInTheWayOfDirectory, action.Path)
		}

		if liveCat == categoryFile {
			if uid, gid, ok := a.FileSystem.OwnerOf(liveInfo); ok {
				priorUID, priorGID, hasPriorOwner = uid, gid, true
			}
			priorMTime, hasPriorMTime = liveInfo.ModTime(), true
		}

		if liveCat != targetCat {
			// Remove the existing entry outright; a symlink is never
			// dereferenced, so Remove (not RemoveAll) is always correct here.
			if err := a.FileSystem.Remove(ctx, livePath); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrWriteFailed, action.Path, err)
			}
		} else if targetCat == categorySymlink {
			// Same category, different target: remove and relink.
			if err := a.FileSystem.Remove(ctx, livePath); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrWriteFailed, action.Path, err)
			}
		}
	}

	if err := a.FileSystem.CreateDir(ctx, a.FileSystem.Dir(livePath), 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, action.Path, err)
	}

	switch targetCat {
	case categorySymlink:
		if err := a.checkSymlinkContainment(action.Path, entry.SymlinkTarget); err != nil {
			return err
		}
		if err := a.FileSystem.Symlink(ctx, entry.SymlinkTarget, livePath); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrWriteFailed, action.Path, err)
		}
	case categoryFile:
		blob, err := a.Repo.ReadBlob(ctx, entry.BlobID)
		if err != nil {
			return fmt.Errorf("%w: read blob for %s: %v", ErrWriteFailed, action.Path, err)
		}
		mode := 0o644
		if entry.Kind == KindExecutable {
			mode = 0o755
		}
		if err := a.FileSystem.AtomicWriteFile(ctx, livePath, blob, mode); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrWriteFailed, action.Path, err)
		}
		if hasPriorOwner {
			_ = a.FileSystem.Chown(ctx, livePath, priorUID, priorGID)
		}
		if hasPriorMTime {
			_ = a.FileSystem.Chtimes(ctx, livePath, priorMTime, priorMTime)
		}
	default:
		return fmt.Errorf("%w: unsupported target kind for %s", ErrWriteFailed, action.Path)
	}

	if a.Secrets != nil && !opts.NoSecrets {
		if rule, ok := a.Classifier.SecretRuleForCiphertext(action.Path); ok {
			if err := a.writeSecretPlaintext(ctx, rule); err != nil {
				return err
			}
		}
	}

	return nil
}

// writeSecretPlaintext decrypts the just-applied ciphertext sidecar
// and writes the plaintext to the rule's plaintext_path (spec §4.5,
// "Secret plaintext writing").
func (a *Applier) writeSecretPlaintext(ctx context.Context, rule SecretRule) error {
	plaintext, err := a.Secrets.Decrypt(ctx, rule)
	if err != nil {
		return err
	}

	plainPath := a.FileSystem.Join(a.HomeRoot, rule.PlaintextPath)
	info, err := a.FileSystem.Lstat(ctx, plainPath)
	if err == nil {
		if info.IsDir() {
			return fmt.Errorf("%w: %s", ErrDirectoryInTheWay, rule.PlaintextPath)
		}
		if info.IsSymlink() {
			if err := a.FileSystem.Remove(ctx, plainPath); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrWriteFailed, rule.PlaintextPath, err)
			}
		}
	} else if !a.FileSystem.IsNotExist(err) {
		return err
	}

	if err := a.FileSystem.CreateDir(ctx, a.FileSystem.Dir(plainPath), 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, rule.PlaintextPath, err)
	}
	if err := a.FileSystem.AtomicWriteFile(ctx, plainPath, plaintext, rule.FileMode()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, rule.PlaintextPath, err)
	}
	return nil
}

// checkSymlinkContainment enforces spec §4.5's "Symlink containment"
// rule: the resolved absolute target must fall under the home root,
// computed by textual normalization only.
func (a *Applier) checkSymlinkContainment(symlinkRP RP, target string) error {
	resolved, isAbs := ResolveSymlinkTargetRP(symlinkRP, target)
	if isAbs {
		if !WithinAbsoluteRoot(target, a.HomeRoot) {
			return fmt.Errorf("%w: %s -> %s", ErrSymlinkEscapesHome, symlinkRP, target)
		}
		return nil
	}
	if EscapesRoot(resolved) || strings.HasPrefix(resolved, "/") {
		return fmt.Errorf("%w: %s -> %s", ErrSymlinkEscapesHome, symlinkRP, target)
	}
	return nil
}
