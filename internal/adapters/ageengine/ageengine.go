// Package ageengine implements usecase.SecretsPort over filippo.io/age,
// the way the pack's vault tooling wraps X25519 recipients/identities
// for file-backed secrets (see the si vault's crypto_age.go/keys.go).
// Unlike that tool, sidecars here hold the raw age binary stream
// directly rather than a dotenv-friendly base64 string, since the
// secrets engine writes and reads whole files.
package ageengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Adapter implements usecase.SecretsPort.
type Adapter struct{}

// New creates an ageengine adapter.
func New() *Adapter {
	return &Adapter{}
}

// Encrypt age-encrypts plaintext to every recipient string (each an
// "age1..." X25519 public key).
func (a *Adapter) Encrypt(ctx context.Context, plaintext []byte, recipients []string) ([]byte, error) {
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		rec, err := age.ParseX25519Recipient(r)
		if err != nil {
			return nil, fmt.Errorf("ageengine: invalid recipient %q: %w", r, err)
		}
		parsed = append(parsed, rec)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("ageengine: no recipients configured")
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, parsed...)
	if err != nil {
		return nil, fmt.Errorf("ageengine: encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("ageengine: encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("ageengine: encrypt close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt age-decrypts ciphertext using the identities loaded from
// identityFiles, trying each identity file in turn until one can open
// the ciphertext's stanza.
func (a *Adapter) Decrypt(ctx context.Context, ciphertext []byte, identityFiles []string) ([]byte, error) {
	identities, err := loadIdentities(identityFiles)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("ageengine: no usable identities in %v", identityFiles)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, fmt.Errorf("ageengine: decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ageengine: decrypt read: %w", err)
	}
	return plain, nil
}

func loadIdentities(paths []string) ([]age.Identity, error) {
	var out []age.Identity
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ageengine: reading identity file %s: %w", path, err)
		}
		ids, err := age.ParseIdentities(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("ageengine: parsing identity file %s: %w", path, err)
		}
		out = append(out, ids...)
	}
	return out, nil
}
