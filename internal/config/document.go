package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ReadDocument decodes a configuration document, choosing the format from the
// file extension. JSON files may contain comments and trailing commas.
func ReadDocument(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeDocument(data, filepath.Ext(path))
}

// DecodeDocument decodes data in the format named by ext (".json", ".yaml",
// ".yml" or ".toml"). An empty document decodes to an empty tree.
func DecodeDocument(data []byte, ext string) (Tree, error) {
	tree := make(Tree)
	if len(bytes.TrimSpace(data)) == 0 {
		return tree, nil
	}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &tree); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &tree); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	if tree == nil {
		tree = make(Tree)
	}
	return normalize(tree).(map[string]any), nil
}

// WriteDocument encodes tree in the format named by path's extension and
// replaces path atomically with the given permissions.
func WriteDocument(path string, tree Tree, perm os.FileMode) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(tree)
	case ".toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(tree)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(tree, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteFileAtomic(path, data, perm)
}

// WriteFileAtomic writes data to a temp file in the target directory, sets
// perm and renames it over path. The directory is created when missing.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return os.Chmod(path, perm)
}
