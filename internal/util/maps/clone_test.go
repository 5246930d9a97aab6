package maps

import "testing"

func TestCloneNilAndEmpty(t *testing.T) {
	if got := Clone[string, string](nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := Clone(map[string]string{}); got != nil {
		t.Fatalf("expected nil for empty map, got %v", got)
	}
}

func TestCloneIsolation(t *testing.T) {
	src := map[string]any{"source": "cli"}
	dst := Clone(src)
	dst["extra"] = true
	if _, ok := src["extra"]; ok {
		t.Fatalf("mutation leaked to source")
	}
}

func TestDeepCloneNestedIsolation(t *testing.T) {
	src := map[string]any{
		"security": map[string]any{"user_agent": "warp"},
		"endpoints": map[string]any{
			"custom_endpoints": []any{map[string]any{"name": "a", "url": "http://a"}},
		},
		"empty": map[string]any{},
	}

	dst := DeepClone(src)
	dst["security"].(map[string]any)["user_agent"] = "changed"
	custom := dst["endpoints"].(map[string]any)["custom_endpoints"].([]any)
	custom[0].(map[string]any)["url"] = "http://b"

	if got := src["security"].(map[string]any)["user_agent"]; got != "warp" {
		t.Fatalf("nested map mutation leaked: %v", got)
	}
	srcCustom := src["endpoints"].(map[string]any)["custom_endpoints"].([]any)
	if got := srcCustom[0].(map[string]any)["url"]; got != "http://a" {
		t.Fatalf("slice element mutation leaked: %v", got)
	}
	if _, ok := dst["empty"].(map[string]any); !ok {
		t.Fatalf("empty section must survive deep clone")
	}
}

func TestDeepCloneNil(t *testing.T) {
	if DeepClone(nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestDeepCloneSliceIsolation(t *testing.T) {
	src := []any{map[string]any{"name": "a"}, []any{1}}
	dst := DeepCloneSlice(src)
	dst[0].(map[string]any)["name"] = "b"
	dst[1].([]any)[0] = 2
	if src[0].(map[string]any)["name"] != "a" || src[1].([]any)[0] != 1 {
		t.Fatalf("mutation leaked to source: %v", src)
	}
	if DeepCloneSlice(nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
}
