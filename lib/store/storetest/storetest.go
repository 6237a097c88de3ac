// Package storetest provides a conformance test suite for scene store
// implementations. Any Store backend is expected to pass it; the memory
// store runs it in-process, a MongoDB deployment can run it against a
// throwaway database.
package storetest

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/store"
)

// Factory creates a fresh, empty store instance for one test.
type Factory func() store.Store

// RunStoreTests runs the conformance suite for a Store implementation.
func RunStoreTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("UpsertGet", func(t *testing.T) {
			testUpsertGet(t, factory())
		})
		t.Run("UpsertIdempotent", func(t *testing.T) {
			testUpsertIdempotent(t, factory())
		})
		t.Run("Replace", func(t *testing.T) {
			testReplace(t, factory())
		})
		t.Run("Patch", func(t *testing.T) {
			testPatch(t, factory())
		})
		t.Run("ExpiryFiltering", func(t *testing.T) {
			testExpiryFiltering(t, factory())
		})
		t.Run("ListSceneSorted", func(t *testing.T) {
			testListSceneSorted(t, factory())
		})
		t.Run("CascadeFilters", func(t *testing.T) {
			testCascadeFilters(t, factory())
		})
		t.Run("SceneListing", func(t *testing.T) {
			testSceneListing(t, factory())
		})
		t.Run("KeysProjection", func(t *testing.T) {
			testKeysProjection(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func obj(namespace, sceneID, objectID string, attrs map[string]any) *model.SceneObject {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &model.SceneObject{
		ObjectID:   objectID,
		Type:       "object",
		Attributes: attrs,
		Realm:      "realm",
		Namespace:  namespace,
		SceneID:    sceneID,
	}
}

func mustUpsert(t *testing.T, s store.Store, o *model.SceneObject) {
	t.Helper()
	if err := s.Upsert(context.Background(), o); err != nil {
		t.Fatalf("Upsert(%s): %v", o.ObjectID, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpsertGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close(ctx)

	o := obj("ns", "scene", "box", map[string]any{"color": "red"})
	mustUpsert(t, s, o)

	got, found, err := s.Get(ctx, o.Key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected object to be found after Upsert")
	}
	if got.Attributes["color"] != "red" {
		t.Errorf("attributes = %v", got.Attributes)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps must be set by the store")
	}

	_, found, err = s.Get(ctx, model.Key{Namespace: "ns", SceneID: "scene", ObjectID: "missing"})
	if err != nil || found {
		t.Errorf("missing key: found=%v err=%v", found, err)
	}
}

func testUpsertIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close(ctx)

	o := obj("ns", "scene", "box", map[string]any{"v": 1})
	mustUpsert(t, s, o)
	o2 := obj("ns", "scene", "box", map[string]any{"v": 2})
	mustUpsert(t, s, o2)

	n, err := s.CountScene(ctx, "ns", "scene")
	if err != nil {
		t.Fatalf("CountScene: %v", err)
	}
	if n != 1 {
		t.Errorf("expected a single document after repeated upsert, got %d", n)
	}

	got, _, err := s.Get(ctx, o.Key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Attributes["v"] != 2 {
		t.Errorf("final state must equal the second call's payload, got %v", got.Attributes)
	}
}

func testReplace(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close(ctx)

	if err := s.Replace(ctx, obj("ns", "scene", "ghost", nil)); err == nil {
		t.Error("Replace of a missing key must fail")
	}

	mustUpsert(t, s, obj("ns", "scene", "box", map[string]any{"a": 1, "b": 2}))
	if err := s.Replace(ctx, obj("ns", "scene", "box", map[string]any{"c": 3})); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, _, err := s.Get(ctx, model.Key{Namespace: "ns", SceneID: "scene", ObjectID: "box"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got.Attributes, map[string]any{"c": 3}) {
		t.Errorf("replace must not merge, got %v", got.Attributes)
	}
}

func testPatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close(ctx)

	key := model.Key{Namespace: "ns", SceneID: "scene", ObjectID: "box"}
	if err := s.Patch(ctx, key, map[string]any{"attributes.a": 1}, nil); err == nil {
		t.Error("Patch of a missing key must fail")
	}

	mustUpsert(t, s, obj("ns", "scene", "box", map[string]any{"a": 1, "c": 3}))
	err := s.Patch(ctx, key,
		map[string]any{"attributes.b": 5},
		[]string{"attributes.a"})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}

	got, _, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got.Attributes, map[string]any{"b": 5, "c": 3}) {
		t.Errorf("patched attributes = %v, want {b:5 c:3}", got.Attributes)
	}
}

func testExpiryFiltering(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close(ctx)

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	gone := obj("ns", "scene", "gone", nil)
	gone.ExpireAt = &past
	live := obj("ns", "scene", "live", nil)
	live.ExpireAt = &future
	forever := obj("ns", "scene", "forever", nil)

	mustUpsert(t, s, gone)
	mustUpsert(t, s, live)
	mustUpsert(t, s, forever)

	_, found, err := s.Get(ctx, gone.Key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("expired object must not be readable")
	}

	listed, err := s.ListScene(ctx, "ns", "scene", "")
	if err != nil {
		t.Fatalf("ListScene: %v", err)
	}
	if len(listed) != 2 {
		t.Errorf("expected 2 live objects, got %d", len(listed))
	}

	// Raw existence still sees the expired document until it is deleted.
	exists, err := s.Exists(ctx, gone.Key())
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("Exists must not filter expiry")
	}
}

func testListSceneSorted(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close(ctx)

	mustUpsert(t, s, obj("ns", "scene", "c1", map[string]any{"parent": "zroot"}))
	mustUpsert(t, s, obj("ns", "scene", "c2", map[string]any{"parent": "aroot"}))
	o3 := obj("ns", "scene", "c3", map[string]any{"kind": "sign"})
	o3.Type = "sign"
	mustUpsert(t, s, o3)

	listed, err := s.ListScene(ctx, "ns", "scene", "")
	if err != nil {
		t.Fatalf("ListScene: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(listed))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i-1].Parent() > listed[i].Parent() {
			t.Errorf("objects not sorted by parent: %q > %q", listed[i-1].Parent(), listed[i].Parent())
		}
	}

	signs, err := s.ListScene(ctx, "ns", "scene", "sign")
	if err != nil {
		t.Fatalf("ListScene(type): %v", err)
	}
	if len(signs) != 1 || signs[0].ObjectID != "c3" {
		t.Errorf("type filter failed: %v", signs)
	}
}

func testCascadeFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close(ctx)

	mustUpsert(t, s, obj("ns", "scene", "P", nil))
	mustUpsert(t, s, obj("ns", "scene", "childA", map[string]any{"parent": "P"}))
	mustUpsert(t, s, obj("ns", "scene", "childB", map[string]any{"parent": "P"}))
	mustUpsert(t, s, obj("ns", "scene", "other", map[string]any{"parent": "Q"}))
	mustUpsert(t, s, obj("ns", "scene", "nested", map[string]any{"parent": "T::inst::a"}))
	mustUpsert(t, s, obj("ns", "otherscene", "childC", map[string]any{"parent": "P"}))

	removed, err := s.DeleteChildren(ctx, "ns", "scene", "P")
	if err != nil {
		t.Fatalf("DeleteChildren: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("expected 2 children deleted, got %d", len(removed))
	}
	for _, k := range removed {
		if k.Namespace != "ns" || k.SceneID != "scene" {
			t.Errorf("removed key %s outside the target scene", k)
		}
	}

	// The cascade is scene-scoped.
	exists, _ := s.Exists(ctx, model.Key{Namespace: "ns", SceneID: "otherscene", ObjectID: "childC"})
	if !exists {
		t.Error("cascade must not cross scene boundaries")
	}

	removed, err = s.DeleteChildrenByPrefix(ctx, "ns", "scene", "T::inst::")
	if err != nil {
		t.Fatalf("DeleteChildrenByPrefix: %v", err)
	}
	if len(removed) != 1 {
		t.Errorf("expected 1 nested clone deleted, got %d", len(removed))
	}
	if len(removed) == 1 && removed[0].ObjectID != "nested" {
		t.Errorf("expected key of nested clone, got %s", removed[0])
	}

	n, err := s.DeleteScene(ctx, "ns", "scene")
	if err != nil {
		t.Fatalf("DeleteScene: %v", err)
	}
	if n != 2 { // "P" and "other" remain at this point
		t.Errorf("expected 2 remaining objects deleted, got %d", n)
	}
}

func testSceneListing(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close(ctx)

	mustUpsert(t, s, obj("beta", "s1", "a", nil))
	mustUpsert(t, s, obj("alpha", "s2", "b", nil))
	mustUpsert(t, s, obj("alpha", "s1", "c", nil))
	mustUpsert(t, s, obj("alpha", "s1", "d", nil))

	all, err := s.Scenes(ctx, "")
	if err != nil {
		t.Fatalf("Scenes: %v", err)
	}
	want := []string{"alpha/s1", "alpha/s2", "beta/s1"}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("Scenes = %v, want %v", all, want)
	}

	alpha, err := s.Scenes(ctx, "alpha")
	if err != nil {
		t.Fatalf("Scenes(alpha): %v", err)
	}
	if !reflect.DeepEqual(alpha, []string{"alpha/s1", "alpha/s2"}) {
		t.Errorf("Scenes(alpha) = %v", alpha)
	}
}

func testKeysProjection(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close(ctx)

	mustUpsert(t, s, obj("ns", "s1", "a", nil))
	mustUpsert(t, s, obj("ns", "s2", "b", nil))

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	seen := map[string]struct{}{}
	for _, k := range keys {
		seen[k.String()] = struct{}{}
	}
	if _, ok := seen["ns|s1|a"]; !ok {
		t.Errorf("missing key ns|s1|a in %v", keys)
	}
	if _, ok := seen["ns|s2|b"]; !ok {
		t.Errorf("missing key ns|s2|b in %v", keys)
	}
}
