package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/config"
	"github.com/nupi-ai/warp/internal/config/crypto"
	"github.com/nupi-ai/warp/internal/util/maps"
)

// DefaultPath is used when authentication.token_file is not configured.
const DefaultPath = "./data/tokens.json"

// pythonISOLayout matches timestamps written without a zone offset.
const pythonISOLayout = "2006-01-02T15:04:05.999999"

var (
	ErrTokenNotFound = errors.New("vault: token not found")
	ErrInvalidToken  = errors.New("vault: token name and secret are required")
)

// VaultError reports a failure affecting a single token entry.
type VaultError struct {
	Name string
	Op   string
	Err  error
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("vault: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *VaultError) Unwrap() error { return e.Err }

// Token is a named API credential.
type Token struct {
	Name      string
	Secret    string
	CreatedAt time.Time
	Metadata  map[string]any
}

// String redacts the secret.
func (t Token) String() string {
	return fmt.Sprintf("Token{Name: %q, Secret: [REDACTED], CreatedAt: %s}", t.Name, t.CreatedAt.Format(time.RFC3339))
}

// GoString redacts the secret for %#v.
func (t Token) GoString() string { return t.String() }

// record is the JSON document encrypted for each entry.
type record struct {
	Token    string         `json:"token"`
	AddedAt  string         `json:"added_at"`
	Metadata map[string]any `json:"metadata"`
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the vault logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Vault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		if now != nil {
			v.now = now
		}
	}
}

// Vault keeps named API tokens encrypted at rest in a single JSON file that
// maps each name to an encrypted record.
type Vault struct {
	path    string
	keyring *crypto.Keyring
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	tokens map[string]Token
	// raw holds entries that could not be decoded so Save writes them back
	// untouched.
	raw map[string]json.RawMessage
}

// New returns an empty vault backed by path. Call Load to read existing
// entries.
func New(path string, keyring *crypto.Keyring, opts ...Option) *Vault {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	v := &Vault{
		path:    config.ExpandPath(path),
		keyring: keyring,
		logger:  zap.NewNop(),
		now:     time.Now,
		tokens:  make(map[string]Token),
		raw:     make(map[string]json.RawMessage),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open constructs a vault and loads it.
func Open(path string, keyring *crypto.Keyring, opts ...Option) (*Vault, error) {
	v := New(path, keyring, opts...)
	if err := v.Load(); err != nil {
		return nil, err
	}
	return v, nil
}

// Path returns the token file location.
func (v *Vault) Path() string { return v.path }

// Load replaces the in-memory view with the contents of the token file. A
// missing file yields an empty vault. Entries that cannot be decrypted are
// logged and kept only in raw form.
func (v *Vault) Load() error {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		v.mu.Lock()
		v.tokens = make(map[string]Token)
		v.raw = make(map[string]json.RawMessage)
		v.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("vault: read %s: %w", v.path, err)
	}

	entries := make(map[string]json.RawMessage)
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
			return fmt.Errorf("vault: parse %s: %w", v.path, err)
		}
	}

	tokens := make(map[string]Token, len(entries))
	raw := make(map[string]json.RawMessage)
	legacy := 0
	for name, value := range entries {
		token, plaintext, err := v.decode(name, value)
		if err != nil {
			v.logger.Warn("skipping unreadable token", zap.Error(err))
			raw[name] = value
			continue
		}
		if plaintext {
			legacy++
		}
		tokens[name] = token
	}
	if legacy > 0 {
		v.logger.Warn("token file contains unencrypted entries; they will be encrypted on next save",
			zap.Int("count", legacy))
	}

	v.mu.Lock()
	v.tokens = tokens
	v.raw = raw
	v.mu.Unlock()
	return nil
}

func (v *Vault) decode(name string, value json.RawMessage) (Token, bool, error) {
	var stored string
	if err := json.Unmarshal(value, &stored); err != nil {
		return Token{}, false, &VaultError{Name: name, Op: "decode", Err: err}
	}
	if !crypto.IsEncrypted(stored) {
		return Token{Name: name, Secret: stored, Metadata: map[string]any{}}, true, nil
	}
	if v.keyring == nil {
		return Token{}, false, &VaultError{Name: name, Op: "decrypt", Err: errors.New("no encryption key")}
	}
	plaintext, err := v.keyring.Decrypt(stored)
	if err != nil {
		return Token{}, false, &VaultError{Name: name, Op: "decrypt", Err: err}
	}

	var rec record
	if err := json.Unmarshal([]byte(plaintext), &rec); err != nil || rec.Token == "" {
		return Token{Name: name, Secret: plaintext, Metadata: map[string]any{}}, false, nil
	}
	token := Token{Name: name, Secret: rec.Token, CreatedAt: parseTime(rec.AddedAt), Metadata: rec.Metadata}
	if token.Metadata == nil {
		token.Metadata = map[string]any{}
	}
	return token, false, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, pythonISOLayout} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Save encrypts every token and atomically rewrites the token file with
// owner-only permissions.
func (v *Vault) Save() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.saveLocked()
}

func (v *Vault) saveLocked() error {
	if v.keyring == nil {
		return fmt.Errorf("vault: save: no encryption key")
	}
	out := make(map[string]any, len(v.tokens)+len(v.raw))
	for name, value := range v.raw {
		out[name] = value
	}
	for name, token := range v.tokens {
		rec := record{
			Token:    token.Secret,
			AddedAt:  token.CreatedAt.UTC().Format(time.RFC3339Nano),
			Metadata: token.Metadata,
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return &VaultError{Name: name, Op: "encode", Err: err}
		}
		encrypted, err := v.keyring.Encrypt(string(payload))
		if err != nil {
			return &VaultError{Name: name, Op: "encrypt", Err: err}
		}
		out[name] = encrypted
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("vault: create directory: %w", err)
	}
	if err := config.WriteFileAtomic(v.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return nil
}

// AddToken stores or replaces a token and persists the vault immediately.
// The in-memory view is left unchanged when persisting fails.
func (v *Vault) AddToken(name, secret string, metadata map[string]any) error {
	name = strings.TrimSpace(name)
	if name == "" || secret == "" {
		return ErrInvalidToken
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	prev, hadPrev := v.tokens[name]
	prevRaw, hadRaw := v.raw[name]
	v.tokens[name] = Token{Name: name, Secret: secret, CreatedAt: v.now(), Metadata: maps.DeepClone(metadata)}
	delete(v.raw, name)

	if err := v.saveLocked(); err != nil {
		if hadPrev {
			v.tokens[name] = prev
		} else {
			delete(v.tokens, name)
		}
		if hadRaw {
			v.raw[name] = prevRaw
		}
		return err
	}
	v.logger.Info("token stored", zap.String("name", name))
	return nil
}

// RemoveToken deletes a token, including one that could not be decrypted,
// and persists the vault.
func (v *Vault) RemoveToken(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev, hadPrev := v.tokens[name]
	prevRaw, hadRaw := v.raw[name]
	if !hadPrev && !hadRaw {
		return ErrTokenNotFound
	}
	delete(v.tokens, name)
	delete(v.raw, name)

	if err := v.saveLocked(); err != nil {
		if hadPrev {
			v.tokens[name] = prev
		}
		if hadRaw {
			v.raw[name] = prevRaw
		}
		return err
	}
	v.logger.Info("token removed", zap.String("name", name))
	return nil
}

// GetToken returns the secret stored under name.
func (v *Vault) GetToken(name string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	token, ok := v.tokens[name]
	return token.Secret, ok
}

// Token returns the full record stored under name.
func (v *Vault) Token(name string) (Token, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	token, ok := v.tokens[name]
	if ok {
		token.Metadata = maps.DeepClone(token.Metadata)
	}
	return token, ok
}

// ListTokens returns the names of all readable tokens in sorted order.
func (v *Vault) ListTokens() []string {
	v.mu.Lock()
	names := make([]string, 0, len(v.tokens))
	for name := range v.tokens {
		names = append(names, name)
	}
	v.mu.Unlock()
	sort.Strings(names)
	return names
}
