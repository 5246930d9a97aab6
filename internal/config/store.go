package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/config/crypto"
	"github.com/nupi-ai/warp/internal/util/maps"
	"github.com/nupi-ai/warp/internal/validate"
)

// Store is the layered configuration: defaults, user overrides and an
// encrypted overlay, merged in that order. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	paths   Paths
	keyring *crypto.Keyring
	logger  *zap.Logger

	tree    Tree // merged view
	user    Tree // user layer as persisted by SaveUser
	secrets map[string]struct{}
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKeyring overrides the keyring used for the encrypted overlay.
func WithKeyring(keyring *crypto.Keyring) Option {
	return func(s *Store) {
		if keyring != nil {
			s.keyring = keyring
		}
	}
}

// Load reads the configuration layers from dir. A missing default layer or a
// merged tree failing validation is returned as a *ConfigurationError.
func Load(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		paths:  GetPaths(dir),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.paths.EnsureDir(); err != nil {
		return nil, &ConfigurationError{Path: dir, Err: err}
	}
	if s.keyring == nil {
		s.keyring = crypto.NewKeyring(s.paths.KeyFile, crypto.WithLogger(s.logger))
	}

	merged, user, secrets, err := s.readLayers()
	if err != nil {
		return nil, err
	}
	if err := checkTree(merged); err != nil {
		return nil, err
	}

	s.tree = merged
	s.user = user
	s.secrets = secrets
	return s, nil
}

// New wraps an in-memory tree. The result has no backing files; SaveUser and
// SaveEncryptedValue fail. Intended for embedding and tests.
func New(tree Tree, opts ...Option) *Store {
	s := &Store{
		logger: zap.NewNop(),
		tree:    maps.DeepClone(tree),
		user:    make(Tree),
		secrets: make(map[string]struct{}),
	}
	if s.tree == nil {
		s.tree = make(Tree)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger replaces the store logger. Used once the logging section of the
// loaded tree has been applied.
func (s *Store) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// Paths returns the file layout backing the store.
func (s *Store) Paths() Paths {
	return s.paths
}

// Keyring returns the keyring that protects the encrypted overlay.
func (s *Store) Keyring() *crypto.Keyring {
	return s.keyring
}

// readLayers returns the merged tree, the user layer and the paths that were
// filled from the encrypted overlay.
func (s *Store) readLayers() (Tree, Tree, map[string]struct{}, error) {
	defaults, err := ReadDocument(s.paths.Default)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil, &ConfigurationError{Path: s.paths.Default, Err: ErrDefaultLayerMissing}
		}
		return nil, nil, nil, &ConfigurationError{Path: s.paths.Default, Err: err}
	}

	user := make(Tree)
	if doc, err := ReadDocument(s.paths.User); err == nil {
		user = doc
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil, &ConfigurationError{Path: s.paths.User, Err: err}
	}

	merged := Merged(defaults, user)
	secrets := make(map[string]struct{})

	overlay, err := ReadDocument(s.paths.Overlay)
	switch {
	case err == nil:
		s.spliceOverlay(merged, overlay, secrets)
	case errors.Is(err, os.ErrNotExist):
	default:
		s.logger.Warn("could not load encrypted config", zap.String("path", s.paths.Overlay), zap.Error(err))
	}

	return merged, user, secrets, nil
}

func (s *Store) spliceOverlay(merged, overlay Tree, secrets map[string]struct{}) {
	keys := make([]string, 0, len(overlay))
	for key := range overlay {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw, ok := overlay[key].(string)
		if !ok || !crypto.IsEncrypted(raw) {
			s.logger.Warn("skipping unencrypted overlay entry", zap.String("path", key))
			continue
		}
		if s.keyring == nil {
			s.logger.Warn("skipping overlay entry, no keyring", zap.String("path", key))
			continue
		}
		value, err := s.keyring.Decrypt(raw)
		if err != nil {
			s.logger.Warn("skipping overlay entry that failed to decrypt", zap.String("path", key), zap.Error(err))
			continue
		}
		SetPath(merged, key, value)
		secrets[key] = struct{}{}
	}
}

// Reload re-reads all layers. The new tree is committed only when it
// validates; otherwise the current tree is kept and the error returned.
func (s *Store) Reload() error {
	if s.paths.Default == "" {
		return &ConfigurationError{Err: errors.New("store has no backing files")}
	}
	merged, user, secrets, err := s.readLayers()
	if err != nil {
		return err
	}
	if err := checkTree(merged); err != nil {
		return err
	}
	s.mu.Lock()
	s.tree = merged
	s.user = user
	s.secrets = secrets
	s.mu.Unlock()
	return nil
}

// Get returns the value at a dotted path.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := Lookup(s.tree, path)
	if !ok {
		return nil, false
	}
	switch typed := value.(type) {
	case map[string]any:
		return maps.DeepClone(typed), true
	case []any:
		return maps.DeepCloneSlice(typed), true
	}
	return value, true
}

// GetString returns the string at path or def.
func (s *Store) GetString(path, def string) string {
	if value, ok := s.Get(path); ok {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return def
}

// GetBool returns the bool at path or def.
func (s *Store) GetBool(path string, def bool) bool {
	if value, ok := s.Get(path); ok {
		if b, ok := value.(bool); ok {
			return b
		}
	}
	return def
}

// GetFloat returns the number at path or def.
func (s *Store) GetFloat(path string, def float64) float64 {
	if value, ok := s.Get(path); ok {
		if f, ok := toFloat(value); ok {
			return f
		}
	}
	return def
}

// GetInt returns the number at path truncated to int64, or def.
func (s *Store) GetInt(path string, def int64) int64 {
	if value, ok := s.Get(path); ok {
		if f, ok := toFloat(value); ok {
			return int64(f)
		}
	}
	return def
}

// GetDuration reads a duration. Numbers are seconds; strings use
// time.ParseDuration syntax ("1.5s", "2m").
func (s *Store) GetDuration(path string, def time.Duration) time.Duration {
	value, ok := s.Get(path)
	if !ok {
		return def
	}
	if f, ok := toFloat(value); ok {
		return time.Duration(f * float64(time.Second))
	}
	if str, ok := value.(string); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(str)); err == nil {
			return d
		}
	}
	return def
}

// Set assigns value at a dotted path in both the live tree and the user layer.
// Nothing is written to disk until SaveUser.
func (s *Store) Set(path string, value any) {
	if m, ok := value.(map[string]any); ok {
		value = maps.DeepClone(m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	SetPath(s.tree, path, value)
	if m, ok := value.(map[string]any); ok {
		SetPath(s.user, path, maps.DeepClone(m))
		return
	}
	SetPath(s.user, path, value)
}

// SaveUser persists the user layer. The default layer is never written and
// overlay secrets never reach the user file.
func (s *Store) SaveUser() error {
	if s.paths.User == "" {
		return &ConfigurationError{Err: errors.New("store has no backing files")}
	}
	s.mu.RLock()
	user := maps.DeepClone(s.user)
	s.mu.RUnlock()

	if err := WriteDocument(s.paths.User, user, 0o600); err != nil {
		return &ConfigurationError{Path: s.paths.User, Err: err}
	}
	return nil
}

// SaveEncryptedValue encrypts value into the overlay file under path and
// splices the plaintext into the live tree.
func (s *Store) SaveEncryptedValue(path, value string) error {
	if s.paths.Overlay == "" || s.keyring == nil {
		return &ConfigurationError{Err: errors.New("store has no backing files")}
	}

	overlay, err := ReadDocument(s.paths.Overlay)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return &ConfigurationError{Path: s.paths.Overlay, Err: err}
		}
		overlay = make(Tree)
	}

	encrypted, err := s.keyring.Encrypt(value)
	if err != nil {
		return &ConfigurationError{Path: path, Err: err}
	}
	overlay[path] = encrypted

	if err := WriteDocument(s.paths.Overlay, overlay, 0o600); err != nil {
		return &ConfigurationError{Path: s.paths.Overlay, Err: err}
	}

	s.mu.Lock()
	SetPath(s.tree, path, value)
	if s.secrets == nil {
		s.secrets = make(map[string]struct{})
	}
	s.secrets[path] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Validate reports whether the merged tree has every required section and
// field. It never panics; the first violation is logged.
func (s *Store) Validate() bool {
	s.mu.RLock()
	err := checkTree(s.tree)
	s.mu.RUnlock()
	if err != nil {
		s.logger.Error("invalid configuration", zap.Error(err))
		return false
	}
	return true
}

// Snapshot returns a deep copy of the merged tree.
func (s *Store) Snapshot() Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.DeepClone(s.tree)
}

// ExportSanitized returns a deep copy of the merged tree. Unless
// includeSensitive is set, SensitivePaths and every value that came from the
// encrypted overlay are removed.
func (s *Store) ExportSanitized(includeSensitive bool) Tree {
	s.mu.RLock()
	out := maps.DeepClone(s.tree)
	secrets := make([]string, 0, len(s.secrets))
	for path := range s.secrets {
		secrets = append(secrets, path)
	}
	s.mu.RUnlock()

	if includeSensitive {
		return out
	}
	for _, path := range SensitivePaths {
		DeletePath(out, path)
	}
	for _, path := range secrets {
		DeletePath(out, path)
	}
	return out
}

// Import merges tree into (or, with merge=false, replaces) the current
// configuration. The result is validated first; an invalid result leaves the
// store untouched.
func (s *Store) Import(tree Tree, merge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidate Tree
	if merge {
		candidate = Merged(s.tree, tree)
	} else {
		candidate = maps.DeepClone(tree)
		if candidate == nil {
			candidate = make(Tree)
		}
	}
	if err := checkTree(candidate); err != nil {
		s.logger.Error("rejected imported configuration", zap.Error(err))
		return err
	}

	s.tree = candidate
	if merge {
		s.user = Merged(s.user, tree)
	} else {
		s.user = maps.DeepClone(candidate)
	}
	return nil
}

// Endpoints resolves every configured endpoint URL. Values under endpoints
// that start with "/" are joined to endpoints.api_base; custom_endpoints
// entries ({name, url}) are added verbatim.
func (s *Store) Endpoints() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	section, _ := s.tree["endpoints"].(map[string]any)
	base, _ := section["api_base"].(string)
	base = strings.TrimRight(base, "/")

	for key, value := range section {
		if key == "api_base" || key == "custom_endpoints" {
			continue
		}
		str, ok := value.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(str, "/") {
			out[key] = base + str
		} else {
			out[key] = str
		}
	}

	custom, _ := section["custom_endpoints"].([]any)
	for _, item := range custom {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, nameOK := entry["name"].(string)
		url, urlOK := entry["url"].(string)
		if nameOK && urlOK && name != "" {
			out[name] = url
		}
	}
	return out
}

// Endpoint returns a single resolved endpoint.
func (s *Store) Endpoint(name string) (string, bool) {
	url, ok := s.Endpoints()[name]
	if !ok || strings.TrimSpace(url) == "" {
		return "", false
	}
	return url, true
}

// CheckEndpoints validates every resolved endpoint URL: websocket_base must
// be ws or wss, everything else http or https. Empty values are skipped.
func (s *Store) CheckEndpoints() error {
	endpoints := s.Endpoints()
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		raw := strings.TrimSpace(endpoints[name])
		if raw == "" {
			continue
		}
		check := validate.HTTPURL
		if name == "websocket_base" {
			check = validate.WebSocketURL
		}
		if err := check(raw); err != nil {
			errs = append(errs, &ConfigurationError{Path: "endpoints." + name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// EnabledFeatures maps each feature to its enabled flag. A feature is either
// a section with an "enabled" bool or a bare bool.
func (s *Store) EnabledFeatures() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool)
	section, _ := s.tree["features"].(map[string]any)
	for name, value := range section {
		switch typed := value.(type) {
		case bool:
			out[name] = typed
		case map[string]any:
			if enabled, ok := typed["enabled"].(bool); ok {
				out[name] = enabled
			}
		}
	}
	return out
}

// String implements fmt.Stringer without exposing values.
func (s *Store) String() string {
	return fmt.Sprintf("config.Store(%s)", s.paths.Dir)
}
