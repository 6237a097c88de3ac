// Package memstore implements the scene object store over an in-process
// concurrent map. It mirrors the document-store semantics the service
// relies on (idempotent upserts, dotted-path patches, cascade filters,
// expiry-filtered reads) without an external database, and is the backend
// the test suites and local development runs use.
package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/store"
)

type memStore struct {
	objects *xsync.MapOf[string, model.SceneObject]
}

// New creates an empty in-memory scene store.
func New() store.Store {
	return &memStore{
		objects: xsync.NewMapOf[string, model.SceneObject](),
	}
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (s *memStore) Upsert(_ context.Context, obj *model.SceneObject) error {
	now := time.Now().UTC()
	stored := obj.Clone()
	stored.UpdatedAt = now
	s.objects.Compute(obj.Key().String(), func(old model.SceneObject, loaded bool) (model.SceneObject, bool) {
		if loaded {
			stored.CreatedAt = old.CreatedAt
		} else {
			stored.CreatedAt = now
		}
		return stored, false
	})
	return nil
}

func (s *memStore) Replace(_ context.Context, obj *model.SceneObject) error {
	now := time.Now().UTC()
	stored := obj.Clone()
	stored.UpdatedAt = now
	replaced := false
	s.objects.Compute(obj.Key().String(), func(old model.SceneObject, loaded bool) (model.SceneObject, bool) {
		if !loaded {
			return old, true
		}
		replaced = true
		stored.CreatedAt = old.CreatedAt
		return stored, false
	})
	if !replaced {
		return store.NewError(store.RetCNotFound, "no document to replace: "+obj.Key().String())
	}
	return nil
}

func (s *memStore) Patch(_ context.Context, key model.Key, sets map[string]any, unsets []string) error {
	patched := false
	s.objects.Compute(key.String(), func(old model.SceneObject, loaded bool) (model.SceneObject, bool) {
		if !loaded {
			return old, true
		}
		patched = true
		obj := old.Clone()
		if obj.Attributes == nil {
			obj.Attributes = map[string]any{}
		}
		for path, v := range sets {
			if rel, ok := attributePath(path); ok {
				model.SetPath(obj.Attributes, rel, v)
			}
		}
		for _, path := range unsets {
			if rel, ok := attributePath(path); ok {
				model.UnsetPath(obj.Attributes, rel)
			}
		}
		obj.UpdatedAt = time.Now().UTC()
		return obj, false
	})
	if !patched {
		return store.NewError(store.RetCNotFound, "no document to patch: "+key.String())
	}
	return nil
}

// attributePath strips the "attributes." document prefix from a patch path.
// Paths outside the attribute bag are not patchable here.
func attributePath(path string) (string, bool) {
	rel, ok := strings.CutPrefix(path, "attributes.")
	return rel, ok
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (s *memStore) Get(_ context.Context, key model.Key) (*model.SceneObject, bool, error) {
	stored, ok := s.objects.Load(key.String())
	if !ok || stored.Expired(time.Now().UTC()) {
		return nil, false, nil
	}
	obj := stored.Clone()
	return &obj, true, nil
}

func (s *memStore) Exists(_ context.Context, key model.Key) (bool, error) {
	_, ok := s.objects.Load(key.String())
	return ok, nil
}

func (s *memStore) ListScene(_ context.Context, namespace, sceneID, typeFilter string) ([]model.SceneObject, error) {
	now := time.Now().UTC()
	var out []model.SceneObject
	s.objects.Range(func(_ string, obj model.SceneObject) bool {
		if !obj.Key().InScene(namespace, sceneID) || obj.Expired(now) {
			return true
		}
		if typeFilter != "" && obj.Type != typeFilter {
			return true
		}
		out = append(out, obj.Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Parent(), out[j].Parent()
		if pi != pj {
			return pi < pj
		}
		return out[i].ObjectID < out[j].ObjectID
	})
	return out, nil
}

func (s *memStore) CountScene(_ context.Context, namespace, sceneID string) (int64, error) {
	var n int64
	s.objects.Range(func(_ string, obj model.SceneObject) bool {
		if obj.Key().InScene(namespace, sceneID) {
			n++
		}
		return true
	})
	return n, nil
}

func (s *memStore) Keys(_ context.Context) ([]model.Key, error) {
	var keys []model.Key
	s.objects.Range(func(_ string, obj model.SceneObject) bool {
		keys = append(keys, obj.Key())
		return true
	})
	return keys, nil
}

func (s *memStore) Scenes(_ context.Context, namespace string) ([]string, error) {
	seen := map[string]struct{}{}
	s.objects.Range(func(_ string, obj model.SceneObject) bool {
		if namespace == "" || obj.Namespace == namespace {
			seen[obj.Namespace+"/"+obj.SceneID] = struct{}{}
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for scene := range seen {
		out = append(out, scene)
	}
	sort.Strings(out)
	return out, nil
}

// --------------------------------------------------------------------------
// Delete Operations
// --------------------------------------------------------------------------

func (s *memStore) DeleteObject(_ context.Context, key model.Key) error {
	s.objects.Delete(key.String())
	return nil
}

func (s *memStore) DeleteChildren(ctx context.Context, namespace, sceneID, parentID string) ([]model.Key, error) {
	return s.deleteWhere(namespace, sceneID, func(obj model.SceneObject) bool {
		return obj.Parent() == parentID
	}), nil
}

func (s *memStore) DeleteChildrenByPrefix(ctx context.Context, namespace, sceneID, parentPrefix string) ([]model.Key, error) {
	return s.deleteWhere(namespace, sceneID, func(obj model.SceneObject) bool {
		return strings.HasPrefix(obj.Parent(), parentPrefix)
	}), nil
}

func (s *memStore) DeleteScene(_ context.Context, namespace, sceneID string) (int64, error) {
	removed := s.deleteWhere(namespace, sceneID, func(model.SceneObject) bool { return true })
	return int64(len(removed)), nil
}

func (s *memStore) deleteWhere(namespace, sceneID string, match func(model.SceneObject) bool) []model.Key {
	var doomed []model.Key
	s.objects.Range(func(_ string, obj model.SceneObject) bool {
		if obj.Key().InScene(namespace, sceneID) && match(obj) {
			doomed = append(doomed, obj.Key())
		}
		return true
	})
	for _, k := range doomed {
		s.objects.Delete(k.String())
	}
	return doomed
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) Close(context.Context) error { return nil }
