package vault_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nupi-ai/warp/internal/config/crypto"
	"github.com/nupi-ai/warp/internal/vault"
)

func testKeyring(t *testing.T, fill byte) *crypto.Keyring {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = fill
	}
	return crypto.NewKeyring(filepath.Join(t.TempDir(), crypto.KeyFileName), crypto.WithKey(key))
}

func readEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("decode token file: %v", err)
	}
	return entries
}

func TestTokenPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	keyring := testKeyring(t, 0x11)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	v := vault.New(path, keyring, vault.WithClock(func() time.Time { return fixed }))
	if err := v.AddToken("prod", "s3cret-value", map[string]any{"env": "prod"}); err != nil {
		t.Fatalf("AddToken: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}

	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "s3cret-value") {
		t.Fatalf("token file contains cleartext secret")
	}
	if !crypto.IsEncrypted(readEntries(t, path)["prod"]) {
		t.Fatalf("entry missing encryption marker")
	}

	reopened, err := vault.Open(path, keyring)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	secret, ok := reopened.GetToken("prod")
	if !ok || secret != "s3cret-value" {
		t.Fatalf("unexpected secret %q (ok=%v)", secret, ok)
	}
	token, ok := reopened.Token("prod")
	if !ok || !token.CreatedAt.Equal(fixed) || token.Metadata["env"] != "prod" {
		t.Fatalf("unexpected record %+v", token)
	}
}

func TestLegacyPlaintextEntryIsAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte(`{"legacy": "plain-secret"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	keyring := testKeyring(t, 0x22)

	v, err := vault.Open(path, keyring)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if secret, ok := v.GetToken("legacy"); !ok || secret != "plain-secret" {
		t.Fatalf("legacy secret not returned: %q", secret)
	}

	if err := v.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !crypto.IsEncrypted(readEntries(t, path)["legacy"]) {
		t.Fatalf("legacy entry should be encrypted after save")
	}
}

func TestEncryptedNonRecordValueIsLiteralSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	keyring := testKeyring(t, 0x33)
	enc, err := keyring.Encrypt("bare-secret")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf(`{"bare": %q}`, enc)), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := vault.Open(path, keyring)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if secret, _ := v.GetToken("bare"); secret != "bare-secret" {
		t.Fatalf("unexpected secret %q", secret)
	}
}

func TestUndecryptableEntryIsRetainedOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	foreign := testKeyring(t, 0x44)
	foreignValue, err := foreign.Encrypt(`{"token":"other"}`)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf(`{"foreign": %q}`, foreignValue)), 0o600); err != nil {
		t.Fatal(err)
	}

	keyring := testKeyring(t, 0x55)
	v, err := vault.Open(path, keyring)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := v.GetToken("foreign"); ok {
		t.Fatalf("undecryptable token should not be readable")
	}
	if names := v.ListTokens(); len(names) != 0 {
		t.Fatalf("unexpected names %v", names)
	}

	if err := v.AddToken("mine", "value", nil); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	entries := readEntries(t, path)
	if entries["foreign"] != foreignValue {
		t.Fatalf("foreign entry was not preserved")
	}

	if err := v.RemoveToken("foreign"); err != nil {
		t.Fatalf("RemoveToken: %v", err)
	}
	if _, ok := readEntries(t, path)["foreign"]; ok {
		t.Fatalf("foreign entry should be removed")
	}
}

func TestListTokensSortedAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	v := vault.New(path, testKeyring(t, 0x66))

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := v.AddToken(name, "x-"+name, nil); err != nil {
			t.Fatalf("AddToken(%s): %v", name, err)
		}
	}
	got := v.ListTokens()
	if strings.Join(got, ",") != "alpha,mid,zeta" {
		t.Fatalf("unexpected order %v", got)
	}

	if err := v.RemoveToken("mid"); err != nil {
		t.Fatalf("RemoveToken: %v", err)
	}
	if err := v.RemoveToken("mid"); !errors.Is(err, vault.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if err := v.AddToken("", "secret", nil); !errors.Is(err, vault.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	v, err := vault.Open(filepath.Join(t.TempDir(), "absent.json"), testKeyring(t, 0x77))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(v.ListTokens()) != 0 {
		t.Fatalf("expected empty vault")
	}
}

func TestTokenStringRedactsSecret(t *testing.T) {
	token := vault.Token{Name: "prod", Secret: "hunter2"}
	for _, s := range []string{token.String(), fmt.Sprintf("%v", token), fmt.Sprintf("%#v", token)} {
		if strings.Contains(s, "hunter2") {
			t.Fatalf("secret leaked in %q", s)
		}
	}
}
