package config

import (
	"fmt"
	"reflect"
)

// RequiredSections must be present at the top level of a usable tree.
var RequiredSections = []string{
	"warp_client",
	"endpoints",
	"authentication",
	"features",
	"ui",
	"security",
	"logging",
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindBool
	kindNumber
)

func (k fieldKind) String() string {
	switch k {
	case kindBool:
		return "bool"
	case kindNumber:
		return "number"
	default:
		return "string"
	}
}

type requiredField struct {
	path string
	kind fieldKind
}

var requiredFields = []requiredField{
	{path: "endpoints.api_base", kind: kindString},
	{path: "authentication.method", kind: kindString},
	{path: "logging.level", kind: kindString},
	{path: "ui.theme", kind: kindString},
}

// SensitivePaths are stripped by ExportSanitized unless sensitive output is requested.
var SensitivePaths = []string{
	"authentication.token_file",
	"security",
}

// checkTree returns a ConfigurationError naming the first violation, or nil.
func checkTree(tree Tree) error {
	for _, section := range RequiredSections {
		if _, ok := tree[section]; !ok {
			return &ConfigurationError{Path: section, Err: fmt.Errorf("%w: missing required section", ErrInvalidConfig)}
		}
	}

	for _, field := range requiredFields {
		value, ok := Lookup(tree, field.path)
		if !ok || value == nil {
			return &ConfigurationError{Path: field.path, Err: fmt.Errorf("%w: missing required field", ErrInvalidConfig)}
		}
		if !matchesKind(value, field.kind) {
			return &ConfigurationError{
				Path: field.path,
				Err:  fmt.Errorf("%w: expected %s, got %s", ErrInvalidConfig, field.kind, describeType(value)),
			}
		}
	}
	return nil
}

func matchesKind(value any, kind fieldKind) bool {
	switch kind {
	case kindBool:
		_, ok := value.(bool)
		return ok
	case kindNumber:
		_, ok := toFloat(value)
		return ok
	default:
		_, ok := value.(string)
		return ok
	}
}

func describeType(value any) string {
	switch value.(type) {
	case map[string]any:
		return "section"
	case []any:
		return "list"
	case nil:
		return "null"
	default:
		return reflect.TypeOf(value).String()
	}
}
