package model

import (
	"reflect"
	"sort"
	"testing"
)

func TestFlatten(t *testing.T) {
	flat := Flatten(map[string]any{
		"a": map[string]any{"b": 1, "c": map[string]any{"d": "x"}},
		"e": 2,
		"f": []any{1, 2},
	})
	want := map[string]any{
		"a.b":   1,
		"a.c.d": "x",
		"e":     2,
		"f":     []any{1, 2},
	}
	if !reflect.DeepEqual(flat, want) {
		t.Errorf("Flatten = %v, want %v", flat, want)
	}
}

func TestFlattenEmptyNestedObject(t *testing.T) {
	flat := Flatten(map[string]any{"a": map[string]any{}, "b": 1})
	if _, ok := flat["a"]; ok {
		t.Error("empty nested object must contribute no path")
	}
	if flat["b"] != 1 {
		t.Errorf("expected b=1, got %v", flat["b"])
	}
}

func TestSplitNulls(t *testing.T) {
	sets, unsets := SplitNulls(map[string]any{
		"attributes.a": nil,
		"attributes.b": 5,
	})
	if !reflect.DeepEqual(sets, map[string]any{"attributes.b": 5}) {
		t.Errorf("sets = %v", sets)
	}
	sort.Strings(unsets)
	if !reflect.DeepEqual(unsets, []string{"attributes.a"}) {
		t.Errorf("unsets = %v", unsets)
	}
}

func TestSetUnsetPath(t *testing.T) {
	attrs := map[string]any{"a": 1, "c": 3}
	SetPath(attrs, "b", 5)
	SetPath(attrs, "pos.x", 1.5)
	UnsetPath(attrs, "a")
	UnsetPath(attrs, "missing.deep") // no-op

	want := map[string]any{"b": 5, "c": 3, "pos": map[string]any{"x": 1.5}}
	if !reflect.DeepEqual(attrs, want) {
		t.Errorf("attrs = %v, want %v", attrs, want)
	}
}

func TestMergeSemantics(t *testing.T) {
	// null removes, non-null sets, untouched keys survive.
	stored := map[string]any{"a": 1, "c": 3}
	patch := map[string]any{"a": nil, "b": 5}

	sets, unsets := SplitNulls(Flatten(patch))
	for path, v := range sets {
		SetPath(stored, path, v)
	}
	for _, path := range unsets {
		UnsetPath(stored, path)
	}

	want := map[string]any{"b": 5, "c": 3}
	if !reflect.DeepEqual(stored, want) {
		t.Errorf("merged = %v, want %v", stored, want)
	}
}
