package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nupi-ai/warp/internal/config/crypto"
)

const (
	// EnvConfigDir overrides the configuration directory.
	EnvConfigDir = "WARP_CONFIG_DIR"
	// DefaultConfigDir is used when neither a flag nor EnvConfigDir is set.
	DefaultConfigDir = "./config"

	DefaultLayerName   = "default_config"
	UserLayerName      = "user_config"
	OverlayLayerName   = "encrypted_config"
	defaultLayerFormat = ".json"
)

// layerExtensions lists accepted document formats in lookup order.
var layerExtensions = []string{".json", ".yaml", ".yml", ".toml"}

// Paths contains every file location owned by a configuration directory.
type Paths struct {
	Dir     string // Configuration directory
	Default string // Mandatory default layer
	User    string // Optional user override layer
	Overlay string // Optional encrypted overlay layer
	KeyFile string // Encryption key file
}

// ResolveDir picks the configuration directory: explicit flag, then
// environment, then DefaultConfigDir.
func ResolveDir(flagValue string) string {
	if dir := strings.TrimSpace(flagValue); dir != "" {
		return ExpandPath(dir)
	}
	if dir := strings.TrimSpace(os.Getenv(EnvConfigDir)); dir != "" {
		return ExpandPath(dir)
	}
	return DefaultConfigDir
}

// GetPaths returns the layout for dir. For each layer the first existing file
// among the accepted extensions wins; absent layers fall back to JSON names.
func GetPaths(dir string) Paths {
	return Paths{
		Dir:     dir,
		Default: findLayer(dir, DefaultLayerName),
		User:    findLayer(dir, UserLayerName),
		Overlay: findLayer(dir, OverlayLayerName),
		KeyFile: filepath.Join(dir, crypto.KeyFileName),
	}
}

func findLayer(dir, stem string) string {
	for _, ext := range layerExtensions {
		candidate := filepath.Join(dir, stem+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return filepath.Join(dir, stem+defaultLayerFormat)
}

// EnsureDir creates the configuration directory if it does not exist.
func (p Paths) EnsureDir() error {
	return os.MkdirAll(p.Dir, 0o755)
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
