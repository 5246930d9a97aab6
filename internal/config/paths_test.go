package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDirPrecedence(t *testing.T) {
	t.Setenv(EnvConfigDir, "/tmp/from-env")

	if got := ResolveDir("/tmp/from-flag"); got != "/tmp/from-flag" {
		t.Errorf("flag should win, got %s", got)
	}
	if got := ResolveDir(""); got != "/tmp/from-env" {
		t.Errorf("env should win over default, got %s", got)
	}

	t.Setenv(EnvConfigDir, "")
	if got := ResolveDir("  "); got != DefaultConfigDir {
		t.Errorf("expected default dir, got %s", got)
	}
}

func TestGetPathsPrefersExistingFormat(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "user_config.yaml"), []byte("ui: {}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	paths := GetPaths(dir)
	if filepath.Base(paths.User) != "user_config.yaml" {
		t.Errorf("expected yaml user layer, got %s", paths.User)
	}
	if filepath.Base(paths.Default) != "default_config.json" {
		t.Errorf("expected json fallback for missing default layer, got %s", paths.Default)
	}
	if filepath.Base(paths.KeyFile) != ".encryption_key" {
		t.Errorf("unexpected key file %s", paths.KeyFile)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandPath("~/warp"); got != filepath.Join(home, "warp") {
		t.Errorf("ExpandPath(~/warp) = %s", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Errorf("ExpandPath(/abs) = %s", got)
	}
	if got := ExpandPath(""); got != "" {
		t.Errorf("ExpandPath(\"\") = %q", got)
	}
}
