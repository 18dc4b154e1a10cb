package usecase

import (
	"bytes"
	"context"
	"fmt"
)

// SecretsEngine composes the raw age cryptography operations exposed
// by SecretsPort into the encrypt/decrypt/refresh/rekey/status
// lifecycle spec §4.3 (component C5) describes.
type SecretsEngine struct {
	Backend    SecretsPort
	FileSystem FileSystemPort
	Repo       RepoPort
	Config     SecretsConfig
	HomeRoot   string
}

// NewSecretsEngine builds a SecretsEngine.
func NewSecretsEngine(backend SecretsPort, fsys FileSystemPort, repo RepoPort, cfg SecretsConfig, homeRoot string) *SecretsEngine {
	return &SecretsEngine{Backend: backend, FileSystem: fsys, Repo: repo, Config: cfg, HomeRoot: homeRoot}
}

func (e *SecretsEngine) livePath(rp RP) string {
	return e.FileSystem.Join(e.HomeRoot, rp)
}

// Encrypt reads a rule's plaintext, encrypts it to the configured
// recipients, writes the ciphertext sidecar atomically, and stages the
// sidecar (never the plaintext) via the repository backend.
func (e *SecretsEngine) Encrypt(ctx context.Context, rule SecretRule) error {
	if len(e.Config.Recipients) == 0 {
		return ErrNoRecipients
	}

	plainPath := e.livePath(rule.PlaintextPath)
	plaintext, err := e.FileSystem.ReadFile(ctx, plainPath)
	if err != nil {
		if e.FileSystem.IsNotExist(err) {
			return ErrPlaintextMissing
		}
		return err
	}

	ciphertext, err := e.Backend.Encrypt(ctx, plaintext, e.Config.Recipients)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", rule.PlaintextPath, err)
	}

	cipherRP := rule.SidecarPath(e.Config.SidecarSuffix)
	cipherPath := e.livePath(cipherRP)
	if err := e.FileSystem.AtomicWriteFile(ctx, cipherPath, ciphertext, rule.FileMode()); err != nil {
		return fmt.Errorf("write sidecar %s: %w", cipherRP, err)
	}

	if err := e.Repo.Stage(ctx, cipherRP); err != nil {
		return fmt.Errorf("%w: stage sidecar %s: %v", ErrIndexWriteFailed, cipherRP, err)
	}
	return nil
}

// Decrypt reads a rule's ciphertext sidecar and returns the decrypted
// plaintext bytes.
func (e *SecretsEngine) Decrypt(ctx context.Context, rule SecretRule) ([]byte, error) {
	if len(e.Config.IdentityFiles) == 0 {
		return nil, ErrNoIdentities
	}

	cipherPath := e.livePath(rule.SidecarPath(e.Config.SidecarSuffix))
	ciphertext, err := e.FileSystem.ReadFile(ctx, cipherPath)
	if err != nil {
		return nil, err
	}

	plaintext, err := e.Backend.Decrypt(ctx, ciphertext, e.Config.IdentityFiles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptError, err)
	}
	return plaintext, nil
}

// Refresh re-encrypts each targeted rule whose plaintext exists on
// disk and stages the resulting ciphertext. Rules whose plaintext is
// absent are skipped silently (there is nothing to refresh).
func (e *SecretsEngine) Refresh(ctx context.Context, rules []SecretRule) error {
	for _, rule := range rules {
		if err := e.Encrypt(ctx, rule); err != nil {
			if err == ErrPlaintextMissing {
				continue
			}
			return err
		}
	}
	return nil
}

// Rekey decrypts every rule with the current identities and
// re-encrypts to the current recipients, staging the result. Used
// after a recipient or identity rotation.
func (e *SecretsEngine) Rekey(ctx context.Context, rules []SecretRule) error {
	for _, rule := range rules {
		plaintext, err := e.Decrypt(ctx, rule)
		if err != nil {
			return err
		}
		ciphertext, err := e.Backend.Encrypt(ctx, plaintext, e.Config.Recipients)
		if err != nil {
			return fmt.Errorf("rekey %s: %w", rule.PlaintextPath, err)
		}
		cipherRP := rule.SidecarPath(e.Config.SidecarSuffix)
		if err := e.FileSystem.AtomicWriteFile(ctx, e.livePath(cipherRP), ciphertext, rule.FileMode()); err != nil {
			return fmt.Errorf("write sidecar %s: %w", cipherRP, err)
		}
		if err := e.Repo.Stage(ctx, cipherRP); err != nil {
			return fmt.Errorf("%w: stage sidecar %s: %v", ErrIndexWriteFailed, cipherRP, err)
		}
	}
	return nil
}

// Status compares a rule's plaintext to its decrypted ciphertext
// (spec §4.3): exactly one of in-sync, drift, missing-plaintext,
// missing-ciphertext, decrypt-error.
func (e *SecretsEngine) Status(ctx context.Context, rule SecretRule) SecretStatus {
	plainPath := e.livePath(rule.PlaintextPath)
	plaintext, plainErr := e.FileSystem.ReadFile(ctx, plainPath)
	plainMissing := plainErr != nil && e.FileSystem.IsNotExist(plainErr)
	if plainErr != nil && !plainMissing {
		return SecretStatus{Rule: rule, Kind: SecretDecryptError, Err: plainErr}
	}

	cipherPath := e.livePath(rule.SidecarPath(e.Config.SidecarSuffix))
	ciphertext, cipherErr := e.FileSystem.ReadFile(ctx, cipherPath)
	cipherMissing := cipherErr != nil && e.FileSystem.IsNotExist(cipherErr)
	if cipherErr != nil && !cipherMissing {
		return SecretStatus{Rule: rule, Kind: SecretDecryptError, Err: cipherErr}
	}

	switch {
	case plainMissing && cipherMissing:
		return SecretStatus{Rule: rule, Kind: SecretMissingPlaintext}
	case plainMissing:
		return SecretStatus{Rule: rule, Kind: SecretMissingPlaintext}
	case cipherMissing:
		return SecretStatus{Rule: rule, Kind: SecretMissingCiphertext}
	}

	if len(e.Config.IdentityFiles) == 0 {
		return SecretStatus{Rule: rule, Kind: SecretDecryptError, Err: ErrNoIdentities}
	}
	decrypted, err := e.Backend.Decrypt(ctx, ciphertext, e.Config.IdentityFiles)
	if err != nil {
		return SecretStatus{Rule: rule, Kind: SecretDecryptError, Err: fmt.Errorf("%w: %v", ErrDecryptError, err)}
	}

	if bytes.Equal(decrypted, plaintext) {
		return SecretStatus{Rule: rule, Kind: SecretInSync}
	}
	return SecretStatus{Rule: rule, Kind: SecretDrift}
}

// EncryptBytes encrypts arbitrary bytes to the configured recipients,
// used by the applier's backup phase for the "encrypt" backup policy
// (spec §4.5 phase 1) where there is no on-disk plaintext path to read
// through Encrypt.
func (e *SecretsEngine) EncryptBytes(ctx context.Context, plaintext []byte) ([]byte, error) {
	if len(e.Config.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return e.Backend.Encrypt(ctx, plaintext, e.Config.Recipients)
}
