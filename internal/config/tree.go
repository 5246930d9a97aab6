package config

import (
	"strings"

	"github.com/nupi-ai/warp/internal/util/maps"
)

// Tree is a decoded configuration document addressed by dotted paths.
type Tree = map[string]any

// Merge folds override into base in place. Nested maps merge recursively;
// every other value (including slices) replaces the base value wholesale.
func Merge(base, override Tree) {
	for key, value := range override {
		if baseMap, ok := base[key].(map[string]any); ok {
			if overrideMap, ok := value.(map[string]any); ok {
				Merge(baseMap, overrideMap)
				continue
			}
		}
		if m, ok := value.(map[string]any); ok {
			base[key] = maps.DeepClone(m)
			continue
		}
		base[key] = value
	}
}

// Merged returns a new tree holding base with override merged over it.
// Neither input is modified.
func Merged(base, override Tree) Tree {
	out := maps.DeepClone(base)
	if out == nil {
		out = make(Tree)
	}
	Merge(out, override)
	return out
}

func splitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Lookup resolves a dotted path. The second result is false when any segment
// is missing or traverses a non-map value.
func Lookup(tree Tree, path string) (any, bool) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return nil, false
	}
	var current any = tree
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetPath assigns value at a dotted path, creating intermediate sections.
// A non-map value standing in the way is replaced by a new section.
func SetPath(tree Tree, path string, value any) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return
	}
	current := tree
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
}

// DeletePath removes the value at a dotted path. Missing paths are ignored.
func DeletePath(tree Tree, path string) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return
	}
	current := tree
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	delete(current, keys[len(keys)-1])
}

// normalize converts decoder-specific container types into map[string]any and
// []any so the rest of the package deals with a single shape.
func normalize(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, item := range typed {
			typed[k] = normalize(item)
		}
		return typed
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			if ks, ok := k.(string); ok {
				out[ks] = normalize(item)
			}
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalize(item)
		}
		return out
	case []any:
		for i, item := range typed {
			typed[i] = normalize(item)
		}
		return typed
	default:
		return v
	}
}

// toFloat converts the numeric kinds produced by the JSON, YAML and TOML decoders.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
