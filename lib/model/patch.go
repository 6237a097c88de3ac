package model

import "strings"

// --------------------------------------------------------------------------
// Merge-patch helpers
// --------------------------------------------------------------------------

// Flatten converts a nested attribute object into dotted-path leaves:
// {a: {b: 1}, c: 2} becomes {"a.b": 1, "c": 2}. Only plain objects are
// descended into; arrays and scalars are leaves. An empty nested object
// contributes no paths.
func Flatten(obj map[string]any) map[string]any {
	out := map[string]any{}
	flattenInto(out, "", obj)
	return out
}

func flattenInto(out map[string]any, prefix string, obj map[string]any) {
	for k, v := range obj {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			flattenInto(out, path, m)
			continue
		}
		out[path] = v
	}
}

// SplitNulls partitions flattened leaves into set operations and unset
// paths: a nil leaf means "remove this path", anything else means "set it".
func SplitNulls(flat map[string]any) (sets map[string]any, unsets []string) {
	sets = map[string]any{}
	for path, v := range flat {
		if v == nil {
			unsets = append(unsets, path)
			continue
		}
		sets[path] = v
	}
	return sets, unsets
}

// SetPath writes a value at a dotted path inside an attribute bag, creating
// intermediate maps as needed. A non-map intermediate value is overwritten,
// matching document-store $set semantics.
func SetPath(attrs map[string]any, path string, value any) {
	segs := strings.Split(path, ".")
	cur := attrs
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// UnsetPath removes a dotted path from an attribute bag. Missing
// intermediates make it a no-op.
func UnsetPath(attrs map[string]any, path string) {
	segs := strings.Split(path, ".")
	cur := attrs
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, segs[len(segs)-1])
}
