// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/nupi-ai/warp/internal/app"
	"github.com/nupi-ai/warp/internal/config"
)

// ConfigDir initialises a configuration directory from the bundled default
// layer and writes a user layer that keeps every data path under a fresh temp
// root. overrides are merged over that user layer. It returns the config
// directory and the temp root.
func ConfigDir(t *testing.T, overrides config.Tree) (string, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "config")
	if _, err := app.InitConfigDir(dir); err != nil {
		t.Fatalf("init config dir: %v", err)
	}

	user := config.Tree{
		"authentication": map[string]any{"token_file": filepath.Join(root, "data", "tokens.json")},
		"logging": map[string]any{
			"file":    filepath.Join(root, "data", "warp.log"),
			"console": false,
		},
		"data": map[string]any{"history_db": filepath.Join(root, "data", "history.db")},
		"features": map[string]any{
			"terminal":       map[string]any{"shell": "/bin/sh"},
			"custom_modules": map[string]any{"modules_directory": filepath.Join(root, "modules")},
		},
	}
	config.Merge(user, overrides)
	WriteUserLayer(t, dir, user)
	return dir, root
}

// WriteUserLayer replaces the user layer in dir.
func WriteUserLayer(t *testing.T, dir string, user config.Tree) {
	t.Helper()
	if err := config.WriteDocument(filepath.Join(dir, config.UserLayerName+".json"), user, 0o600); err != nil {
		t.Fatalf("write user layer: %v", err)
	}
}
