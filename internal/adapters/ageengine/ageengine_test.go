package ageengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
)

func writeIdentity(t *testing.T, dir, name string) (string, string) {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, id.Recipient().String()
}

func TestAdapter_EncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	identityFile, recipient := writeIdentity(t, dir, "identity.txt")

	adapter := New()
	plaintext := []byte("super secret value")

	ciphertext, err := adapter.Encrypt(ctx, plaintext, []string{recipient})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(ciphertext) == 0 {
		t.Fatal("expected non-empty ciphertext")
	}

	got, err := adapter.Decrypt(ctx, ciphertext, []string{identityFile})
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("decrypted = %q, want %q", got, plaintext)
	}
}

func TestAdapter_Encrypt_NoRecipients(t *testing.T) {
	adapter := New()
	if _, err := adapter.Encrypt(context.Background(), []byte("x"), nil); err == nil {
		t.Fatal("expected error with no recipients")
	}
}

func TestAdapter_Decrypt_WrongIdentity(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	_, recipient := writeIdentity(t, dir, "identity-a.txt")
	otherIdentityFile, _ := writeIdentity(t, dir, "identity-b.txt")

	adapter := New()
	ciphertext, err := adapter.Encrypt(ctx, []byte("secret"), []string{recipient})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := adapter.Decrypt(ctx, ciphertext, []string{otherIdentityFile}); err == nil {
		t.Fatal("expected decrypt failure with mismatched identity")
	}
}
