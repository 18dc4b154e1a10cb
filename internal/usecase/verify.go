package usecase

import (
	"bytes"
	"context"
	"fmt"
)

// Verifier compares live filesystem state against a target revision
// and produces a structured report (spec §4.6, component C8).
type Verifier struct {
	Classifier *Classifier
	FileSystem FileSystemPort
	Repo       RepoPort
	Secrets    *SecretsEngine
	HomeRoot   string
}

// NewVerifier builds a Verifier.
func NewVerifier(classifier *Classifier, fsys FileSystemPort, repo RepoPort, secrets *SecretsEngine, homeRoot string) *Verifier {
	return &Verifier{Classifier: classifier, FileSystem: fsys, Repo: repo, Secrets: secrets, HomeRoot: homeRoot}
}

// VerifyOptions controls a verify invocation.
type VerifyOptions struct {
	Strict      bool
	SecretsMode SecretsMode
	Rules       []SecretRule
}

// Verify implements spec §4.6.
func (v *Verifier) Verify(ctx context.Context, revisionID string, opts VerifyOptions) (*VerifyReport, error) {
	report := &VerifyReport{Revision: revisionID}

	it, err := v.Repo.WalkTree(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	seen := make(map[RP]struct{})
	cipherBlobs := make(map[RP]string)
	for {
		entry, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		verdict := v.Classifier.Classify(entry.Path, false)
		if !verdict.Class.Managed() && verdict.Class != ClassSecretCiphertext {
			continue
		}
		rp := NormalizeRP(entry.Path)
		seen[rp] = struct{}{}
		if verdict.Class == ClassSecretCiphertext {
			cipherBlobs[rp] = entry.BlobID
		}

		drift, err := v.compareOne(ctx, entry, opts.Strict)
		if err != nil {
			return nil, err
		}
		if drift != nil {
			report.Drifts = append(report.Drifts, *drift)
		}
	}

	if opts.Strict {
		unexpected, err := v.findUnexpected(ctx, seen)
		if err != nil {
			return nil, err
		}
		report.Drifts = append(report.Drifts, unexpected...)
	}

	if opts.SecretsMode != SecretsModeSkip {
		for _, rule := range opts.Rules {
			report.Secrets = append(report.Secrets, v.verifySecret(ctx, rule, opts.SecretsMode, seen, cipherBlobs))
		}
	}

	return report, nil
}

func (v *Verifier) compareOne(ctx context.Context, entry TreeEntry, strict bool) (*DriftEntry, error) {
	livePath := v.FileSystem.Join(v.HomeRoot, entry.Path)
	info, err := v.FileSystem.Lstat(ctx, livePath)
	if err != nil {
		if v.FileSystem.IsNotExist(err) {
			return &DriftEntry{Path: entry.Path, Kind: DriftMissingLive, Note: "absent"}, nil
		}
		return nil, err
	}

	liveKind := EntryKindFromInfo(info)

	if categoryOf(liveKind) != categoryOf(entry.Kind) {
		return &DriftEntry{Path: entry.Path, Kind: DriftContentDiffers, Note: "type differs"}, nil
	}

	switch entry.Kind {
	case KindSymlink:
		target, err := v.FileSystem.Readlink(ctx, livePath)
		if err != nil {
			return nil, err
		}
		if target != entry.SymlinkTarget {
			return &DriftEntry{Path: entry.Path, Kind: DriftContentDiffers, Note: "symlink target differs"}, nil
		}
	case KindRegular, KindExecutable:
		live, err := v.FileSystem.ReadFile(ctx, livePath)
		if err != nil {
			return nil, err
		}
		blob, err := v.Repo.ReadBlob(ctx, entry.BlobID)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(live, blob) {
			return &DriftEntry{Path: entry.Path, Kind: DriftContentDiffers, Note: "content differs"}, nil
		}
		if strict && liveKind != entry.Kind {
			return &DriftEntry{Path: entry.Path, Kind: DriftExecutableBitDiffers, Note: "executable bit differs"}, nil
		}
	}

	return nil, nil
}

// findUnexpected walks each managed root live looking for managed
// paths present on disk but absent from the target tree (spec §4.6,
// §9 "strict mode only reports files classified InRoot/ExtraFile").
func (v *Verifier) findUnexpected(ctx context.Context, seen map[RP]struct{}) ([]DriftEntry, error) {
	var unexpected []DriftEntry
	for _, root := range v.Classifier.Roots() {
		rootPath := v.FileSystem.Join(v.HomeRoot, root)
		if _, err := v.FileSystem.Lstat(ctx, rootPath); err != nil {
			if v.FileSystem.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		err := v.FileSystem.Walk(ctx, rootPath, func(path string, info FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, relErr := v.FileSystem.Rel(v.HomeRoot, path)
			if relErr != nil {
				return relErr
			}
			rp := NormalizeRP(rel)
			if _, ok := seen[rp]; ok {
				return nil
			}
			verdict := v.Classifier.Classify(rp, false)
			if !verdict.Class.Managed() {
				return nil
			}
			unexpected = append(unexpected, DriftEntry{Path: rp, Kind: DriftUnexpectedFile, Note: "present live, absent from tree"})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return unexpected, nil
}

// verifySecret implements spec §4.6's two non-skip secrets modes
// against the *target revision's tree*, not the live filesystem:
// "presence" requires the plaintext to exist live and the ciphertext
// to exist in the tree; "decrypt" additionally decrypts the tree's
// ciphertext blob and compares it to the live plaintext. seen/
// cipherBlobs are populated from the same tree walk Verify already
// performed, so no second tree traversal is needed.
func (v *Verifier) verifySecret(ctx context.Context, rule SecretRule, mode SecretsMode, seen map[RP]struct{}, cipherBlobs map[RP]string) SecretStatus {
	plainPath := v.FileSystem.Join(v.HomeRoot, rule.PlaintextPath)
	_, plainErr := v.FileSystem.Lstat(ctx, plainPath)
	plainMissing := plainErr != nil && v.FileSystem.IsNotExist(plainErr)

	cipherRP := NormalizeRP(rule.SidecarPath(v.Secrets.Config.SidecarSuffix))
	_, cipherInTree := seen[cipherRP]

	switch {
	case plainMissing && !cipherInTree:
		return SecretStatus{Rule: rule, Kind: SecretMissingPlaintext}
	case plainMissing:
		return SecretStatus{Rule: rule, Kind: SecretMissingPlaintext}
	case !cipherInTree:
		return SecretStatus{Rule: rule, Kind: SecretMissingCiphertext}
	}

	if mode == SecretsModePresence {
		return SecretStatus{Rule: rule, Kind: SecretInSync}
	}

	plaintext, err := v.FileSystem.ReadFile(ctx, plainPath)
	if err != nil {
		return SecretStatus{Rule: rule, Kind: SecretDecryptError, Err: err}
	}
	if len(v.Secrets.Config.IdentityFiles) == 0 {
		return SecretStatus{Rule: rule, Kind: SecretDecryptError, Err: ErrNoIdentities}
	}
	blobID := cipherBlobs[cipherRP]
	ciphertext, err := v.Repo.ReadBlob(ctx, blobID)
	if err != nil {
		return SecretStatus{Rule: rule, Kind: SecretDecryptError, Err: err}
	}
	decrypted, err := v.Secrets.Backend.Decrypt(ctx, ciphertext, v.Secrets.Config.IdentityFiles)
	if err != nil {
		return SecretStatus{Rule: rule, Kind: SecretDecryptError, Err: fmt.Errorf("%w: %v", ErrDecryptError, err)}
	}
	if bytes.Equal(decrypted, plaintext) {
		return SecretStatus{Rule: rule, Kind: SecretInSync}
	}
	return SecretStatus{Rule: rule, Kind: SecretDrift}
}

// RedactPath returns the redaction placeholder verify uses in place of
// secret plaintext paths unless --show-paths was given (spec §4.6).
const RedactPath = "<redacted-secret>"

// RedactReport replaces every secret plaintext path in a report with
// RedactPath, including drift entries whose path equals a rule's
// plaintext path.
func RedactReport(report *VerifyReport, rules []SecretRule) {
	plaintexts := make(map[RP]struct{}, len(rules))
	for _, r := range rules {
		plaintexts[NormalizeRP(r.PlaintextPath)] = struct{}{}
	}
	for i := range report.Drifts {
		if _, ok := plaintexts[NormalizeRP(report.Drifts[i].Path)]; ok {
			report.Drifts[i].Path = RedactPath
		}
	}
	for i := range report.Secrets {
		report.Secrets[i].Rule.PlaintextPath = RedactPath
	}
}
