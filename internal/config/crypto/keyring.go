package crypto

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// EnvKey names the environment variable that overrides the on-disk key.
const EnvKey = "WARP_CLIENT_ENCRYPTION_KEY"

// Keyring resolves the process-wide encryption key lazily and performs
// encryption with it. Lookup order: environment, key file, freshly created key.
type Keyring struct {
	keyPath string
	getenv  func(string) string
	logger  *zap.Logger

	once sync.Once
	key  []byte
	err  error
}

// KeyringOption customises a Keyring.
type KeyringOption func(*Keyring)

// WithLogger sets the logger used for key-resolution warnings.
func WithLogger(logger *zap.Logger) KeyringOption {
	return func(k *Keyring) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithGetenv overrides environment lookup (tests).
func WithGetenv(getenv func(string) string) KeyringOption {
	return func(k *Keyring) {
		if getenv != nil {
			k.getenv = getenv
		}
	}
}

// WithKey pins the key, skipping environment and file lookup.
func WithKey(key []byte) KeyringOption {
	return func(k *Keyring) {
		pinned := append([]byte(nil), key...)
		k.once.Do(func() { k.key = pinned })
	}
}

// NewKeyring returns a keyring whose key lives at keyPath.
func NewKeyring(keyPath string, opts ...KeyringOption) *Keyring {
	k := &Keyring{
		keyPath: keyPath,
		getenv:  os.Getenv,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// KeyPath returns the on-disk key location.
func (k *Keyring) KeyPath() string {
	return k.keyPath
}

// Key resolves the key on first use and caches it for the process lifetime.
func (k *Keyring) Key() ([]byte, error) {
	k.once.Do(k.resolve)
	return k.key, k.err
}

func (k *Keyring) resolve() {
	if raw := k.getenv(EnvKey); raw != "" {
		key, err := ParseEnvKey(raw)
		if err == nil {
			k.key = key
			return
		}
		k.logger.Warn("ignoring invalid environment encryption key", zap.String("env", EnvKey), zap.Error(err))
	}

	key, err := LoadKey(k.keyPath, k.logger)
	if err != nil {
		k.logger.Warn("could not read encryption key file", zap.String("path", k.keyPath), zap.Error(err))
	}
	if key != nil {
		k.key = key
		return
	}
	if err != nil {
		// A present but unreadable key must not be silently replaced.
		k.err = err
		return
	}

	key, err = CreateKey(k.keyPath)
	if err != nil {
		generated, genErr := GenerateKey()
		if genErr != nil {
			k.err = genErr
			return
		}
		k.logger.Warn("could not persist encryption key, using process-local key",
			zap.String("path", k.keyPath), zap.Error(err))
		k.key = generated
		return
	}
	k.logger.Info("created encryption key", zap.String("path", k.keyPath))
	k.key = key
}

// Encrypt encrypts plaintext with the resolved key.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	key, err := k.Key()
	if err != nil {
		return "", err
	}
	return EncryptValue(key, plaintext)
}

// Decrypt decrypts a value carrying EncPrefix.
func (k *Keyring) Decrypt(stored string) (string, error) {
	key, err := k.Key()
	if err != nil {
		return "", err
	}
	return DecryptValue(key, stored)
}
