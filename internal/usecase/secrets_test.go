package usecase

import (
	"context"
	"testing"
)

func testSecretsConfig() SecretsConfig {
	return SecretsConfig{
		Enabled:       true,
		Backend:       "age",
		SidecarSuffix: ".age",
		Recipients:    []string{"age1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"},
		IdentityFiles: []string{"identities.txt"},
	}
}

func TestSecretsEngine_EncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	cfg := testSecretsConfig()
	rule := SecretRule{PlaintextPath: ".ssh/id_ed25519", CiphertextPath: ".ssh/id_ed25519.age"}

	mustWriteFile(t, fs, "/home/.ssh/id_ed25519", []byte("super secret key"))

	engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")

	if err := engine.Encrypt(ctx, rule); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	ciphertext, err := fs.ReadFile(ctx, "/home/.ssh/id_ed25519.age")
	if err != nil {
		t.Fatalf("read ciphertext: %v", err)
	}
	if string(ciphertext) == "super secret key" {
		t.Error("expected ciphertext to differ from plaintext")
	}
	if !containsRP(repo.staged, ".ssh/id_ed25519.age") {
		t.Errorf("expected sidecar staged, got %v", repo.staged)
	}

	plaintext, err := engine.Decrypt(ctx, rule)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "super secret key" {
		t.Errorf("decrypted = %q, want original", plaintext)
	}
}

func TestSecretsEngine_Encrypt_NoRecipients(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	cfg := testSecretsConfig()
	cfg.Recipients = nil
	rule := SecretRule{PlaintextPath: ".ssh/id_ed25519", CiphertextPath: ".ssh/id_ed25519.age"}
	mustWriteFile(t, fs, "/home/.ssh/id_ed25519", []byte("x"))

	engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")
	if err := engine.Encrypt(ctx, rule); err != ErrNoRecipients {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestSecretsEngine_Encrypt_PlaintextMissing(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	cfg := testSecretsConfig()
	rule := SecretRule{PlaintextPath: ".ssh/id_ed25519", CiphertextPath: ".ssh/id_ed25519.age"}

	engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")
	if err := engine.Encrypt(ctx, rule); err != ErrPlaintextMissing {
		t.Fatalf("expected ErrPlaintextMissing, got %v", err)
	}
}

func TestSecretsEngine_Refresh_SkipsMissingPlaintext(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	cfg := testSecretsConfig()
	present := SecretRule{PlaintextPath: "present", CiphertextPath: "present.age"}
	absent := SecretRule{PlaintextPath: "absent", CiphertextPath: "absent.age"}
	mustWriteFile(t, fs, "/home/present", []byte("data"))

	engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")
	if err := engine.Refresh(ctx, []SecretRule{present, absent}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := fs.ReadFile(ctx, "/home/present.age"); err != nil {
		t.Errorf("expected present.age to be written: %v", err)
	}
	if _, err := fs.ReadFile(ctx, "/home/absent.age"); err == nil {
		t.Error("expected absent.age to not be written")
	}
}

func TestSecretsEngine_Rekey(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	cfg := testSecretsConfig()
	rule := SecretRule{PlaintextPath: "k", CiphertextPath: "k.age"}
	mustWriteFile(t, fs, "/home/k", []byte("hello"))

	engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")
	if err := engine.Encrypt(ctx, rule); err != nil {
		t.Fatalf("seed encrypt: %v", err)
	}

	if err := engine.Rekey(ctx, []SecretRule{rule}); err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	plaintext, err := engine.Decrypt(ctx, rule)
	if err != nil {
		t.Fatalf("Decrypt after rekey: %v", err)
	}
	if string(plaintext) != "hello" {
		t.Errorf("got %q, want hello", plaintext)
	}
}

func TestSecretsEngine_Status(t *testing.T) {
	ctx := context.Background()
	cfg := testSecretsConfig()
	rule := SecretRule{PlaintextPath: "k", CiphertextPath: "k.age"}

	t.Run("in sync", func(t *testing.T) {
		fs := newFakeFS()
		repo := newFakeRepo()
		engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")
		mustWriteFile(t, fs, "/home/k", []byte("v"))
		if err := engine.Encrypt(ctx, rule); err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		st := engine.Status(ctx, rule)
		if st.Kind != SecretInSync {
			t.Errorf("got %v, want InSync", st.Kind)
		}
	})

	t.Run("drift", func(t *testing.T) {
		fs := newFakeFS()
		repo := newFakeRepo()
		engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")
		mustWriteFile(t, fs, "/home/k", []byte("v1"))
		if err := engine.Encrypt(ctx, rule); err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		mustWriteFile(t, fs, "/home/k", []byte("v2"))
		st := engine.Status(ctx, rule)
		if st.Kind != SecretDrift {
			t.Errorf("got %v, want Drift", st.Kind)
		}
	})

	t.Run("missing plaintext and ciphertext", func(t *testing.T) {
		fs := newFakeFS()
		repo := newFakeRepo()
		engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")
		st := engine.Status(ctx, rule)
		if st.Kind != SecretMissingPlaintext {
			t.Errorf("got %v, want MissingPlaintext", st.Kind)
		}
	})

	t.Run("missing ciphertext only", func(t *testing.T) {
		fs := newFakeFS()
		repo := newFakeRepo()
		engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")
		mustWriteFile(t, fs, "/home/k", []byte("v"))
		st := engine.Status(ctx, rule)
		if st.Kind != SecretMissingCiphertext {
			t.Errorf("got %v, want MissingCiphertext", st.Kind)
		}
	})
}

func TestSecretsEngine_EncryptBytes(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	repo := newFakeRepo()
	cfg := testSecretsConfig()
	engine := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")

	ciphertext, err := engine.EncryptBytes(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}
	if string(ciphertext) == "payload" {
		t.Error("expected ciphertext to differ from plaintext")
	}

	cfg.Recipients = nil
	engine2 := NewSecretsEngine(fakeSecrets{}, fs, repo, cfg, "/home")
	if _, err := engine2.EncryptBytes(ctx, []byte("payload")); err != ErrNoRecipients {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func mustWriteFile(t *testing.T, fs *fakeFS, path string, content []byte) {
	t.Helper()
	if err := fs.WriteFile(context.Background(), path, content, 0o600); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func containsRP(list []RP, target RP) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
