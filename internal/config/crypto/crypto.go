package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

const (
	KeySize     = 32 // AES-256
	KeyFileName = ".encryption_key"
	// EncPrefix marks encrypted values in configuration and token files.
	// Values without it are legacy plaintext.
	EncPrefix = "encrypted:"
)

// ErrNotEncrypted is returned when a stored value lacks EncPrefix.
var ErrNotEncrypted = errors.New("crypto: value is not encrypted")

// IsEncrypted reports whether stored carries the encryption marker.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, EncPrefix)
}

// LoadKey reads an existing encryption key from keyPath.
// Returns nil, nil if the file doesn't exist (key not yet created).
func LoadKey(keyPath string, logger *zap.Logger) ([]byte, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("crypto: read encryption key: %w", err)
	}
	defer f.Close()

	// Permissions are checked on the open descriptor. Windows reports synthetic bits.
	if runtime.GOOS != "windows" {
		if info, statErr := f.Stat(); statErr == nil {
			if perm := info.Mode().Perm(); perm&0o077 != 0 {
				logger.Warn("encryption key has overly permissive mode",
					zap.String("path", keyPath), zap.String("mode", fmt.Sprintf("0%o", perm)))
			}
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("crypto: read encryption key: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("crypto: encryption key at %s has invalid size %d (expected %d)", keyPath, len(data), KeySize)
	}
	return data, nil
}

// GenerateKey returns KeySize fresh random bytes.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate encryption key: %w", err)
	}
	return key, nil
}

// CreateKey generates a new key and writes it to keyPath with owner-only
// permissions. The key is written to a temp file and hard-linked into place,
// so concurrent creators agree on a single winner and readers never observe a
// partially written file.
func CreateKey(keyPath string) ([]byte, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("crypto: create key directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(keyPath), KeyFileName+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("crypto: create encryption key temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(key); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("crypto: write encryption key temp: %w", err)
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("crypto: chmod encryption key temp: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("crypto: close encryption key temp: %w", err)
	}

	if err := os.Link(tmpPath, keyPath); err != nil {
		if os.IsExist(err) {
			raceKey, loadErr := LoadKey(keyPath, nil)
			if loadErr != nil {
				return nil, loadErr
			}
			if raceKey == nil {
				return nil, fmt.Errorf("crypto: encryption key %s disappeared after race", keyPath)
			}
			return raceKey, nil
		}
		return nil, fmt.Errorf("crypto: link encryption key: %w", err)
	}
	return key, nil
}

// ParseEnvKey decodes a base64 key supplied through the environment. Both the
// URL-safe and standard alphabets are accepted, padded or not.
func ParseEnvKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("crypto: empty key")
	}
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawURLEncoding,
		base64.RawStdEncoding,
	}
	for _, enc := range encodings {
		data, err := enc.DecodeString(raw)
		if err != nil {
			continue
		}
		if len(data) != KeySize {
			return nil, fmt.Errorf("crypto: environment key has invalid size %d (expected %d)", len(data), KeySize)
		}
		return data, nil
	}
	return nil, errors.New("crypto: environment key is not valid base64")
}

// EncryptValue encrypts plaintext using AES-256-GCM and returns a prefixed base64 string.
func EncryptValue(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(key []byte, stored string) (string, error) {
	if !IsEncrypted(stored) {
		return "", ErrNotEncrypted
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncPrefix))
	if err != nil {
		return "", fmt.Errorf("crypto: decode encrypted value: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("crypto: encrypted value too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt value: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return gcm, nil
}
