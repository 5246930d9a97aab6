package maps

import stdmaps "maps"

// Clone returns a shallow clone of the input map.
// It returns nil for nil or empty input; metadata maps treat the two alike.
func Clone[K comparable, V any](m map[K]V) map[K]V {
	if len(m) == 0 {
		return nil
	}
	return stdmaps.Clone(m)
}

// DeepClone copies a decoded document tree. Nested map[string]any and []any
// values are copied recursively; scalars are shared. Unlike Clone, an empty
// non-nil map stays non-nil so sections survive a round trip.
func DeepClone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCloneValue(v)
	}
	return out
}

// DeepCloneSlice copies a decoded list with the same rules as DeepClone.
func DeepCloneSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, item := range s {
		out[i] = deepCloneValue(item)
	}
	return out
}

func deepCloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return DeepClone(typed)
	case []any:
		return DeepCloneSlice(typed)
	default:
		return v
	}
}
