package crypto_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nupi-ai/warp/internal/config/crypto"
)

func testKey(fill byte) []byte {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = fill + byte(i)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	for _, plaintext := range []string{"s", "my-secret-api-key-12345", "ünïcödé ☃", strings.Repeat("x", 4096)} {
		encrypted, err := crypto.EncryptValue(key, plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if !crypto.IsEncrypted(encrypted) {
			t.Fatalf("expected %s prefix, got %q", crypto.EncPrefix, encrypted)
		}
		if strings.Contains(encrypted, plaintext) {
			t.Fatal("encrypted value must not contain plaintext")
		}
		decrypted, err := crypto.DecryptValue(key, encrypted)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if decrypted != plaintext {
			t.Fatalf("expected %q, got %q", plaintext, decrypted)
		}
	}
}

func TestDecryptRejectsUnprefixedValue(t *testing.T) {
	t.Parallel()

	_, err := crypto.DecryptValue(testKey(0), "legacy-plaintext-secret")
	if err != crypto.ErrNotEncrypted {
		t.Fatalf("expected ErrNotEncrypted, got %v", err)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	t.Parallel()

	encrypted, err := crypto.EncryptValue(testKey(0), "secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := crypto.DecryptValue(testKey(0x80), encrypted); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestCreateKeyWritesOwnerOnlyFile(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), "nested", crypto.KeyFileName)
	key, err := crypto.CreateKey(keyPath)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", info.Mode().Perm())
	}

	loaded, err := crypto.LoadKey(keyPath, nil)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if string(loaded) != string(key) {
		t.Fatal("expected identical key on load")
	}
}

func TestCreateKeyConcurrentCallersAgree(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), crypto.KeyFileName)
	const goroutines = 8

	var (
		wg   sync.WaitGroup
		keys [goroutines][]byte
		errs [goroutines]error
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(idx int) {
			defer wg.Done()
			keys[idx], errs[idx] = crypto.CreateKey(keyPath)
		}(i)
	}
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d failed: %v", i, errs[i])
		}
		if string(keys[i]) != string(keys[0]) {
			t.Fatalf("goroutine %d returned a different key", i)
		}
	}
}

func TestLoadKeyMissingAndCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	key, err := crypto.LoadKey(filepath.Join(dir, "missing"), nil)
	if err != nil || key != nil {
		t.Fatalf("expected nil, nil for missing key, got %v, %v", key, err)
	}

	corrupt := filepath.Join(dir, "corrupt")
	if err := os.WriteFile(corrupt, []byte("short"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := crypto.LoadKey(corrupt, nil); err == nil {
		t.Fatal("expected error for corrupt key file")
	}
}

func TestKeyringPrefersEnvironment(t *testing.T) {
	t.Parallel()

	envKey := testKey(7)
	keyPath := filepath.Join(t.TempDir(), crypto.KeyFileName)
	ring := crypto.NewKeyring(keyPath, crypto.WithGetenv(func(name string) string {
		if name == crypto.EnvKey {
			return base64.URLEncoding.EncodeToString(envKey)
		}
		return ""
	}))

	key, err := ring.Key()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if string(key) != string(envKey) {
		t.Fatal("expected environment key")
	}
	if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
		t.Fatalf("expected no key file when environment supplies the key, stat err=%v", err)
	}
}

func TestKeyringCreatesKeyLazilyAndReusesIt(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), crypto.KeyFileName)
	noEnv := crypto.WithGetenv(func(string) string { return "" })

	first := crypto.NewKeyring(keyPath, noEnv)
	if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
		t.Fatal("key must not be created before first use")
	}
	encrypted, err := first.Encrypt("token-value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	second := crypto.NewKeyring(keyPath, noEnv)
	decrypted, err := second.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt with reloaded key: %v", err)
	}
	if decrypted != "token-value" {
		t.Fatalf("unexpected plaintext %q", decrypted)
	}
}

func TestParseEnvKeyRejectsWrongSize(t *testing.T) {
	t.Parallel()

	if _, err := crypto.ParseEnvKey(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected size error")
	}
	if _, err := crypto.ParseEnvKey("%%%"); err == nil {
		t.Fatal("expected base64 error")
	}
}
