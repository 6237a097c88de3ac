package cache

import (
	"context"
	"testing"
	"time"

	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/store/memstore"
)

func key(ns, scene, id string) model.Key {
	return model.Key{Namespace: ns, SceneID: scene, ObjectID: id}
}

func TestObserveAndGate(t *testing.T) {
	c := New()
	k := key("ns", "scene", "box")

	if c.IsPersisted(k) {
		t.Error("fresh cache must reject unknown keys")
	}
	c.ObserveCreate(k)
	if !c.IsPersisted(k) {
		t.Error("key must be persisted after ObserveCreate")
	}
	c.ObserveDelete(k)
	if c.IsPersisted(k) {
		t.Error("key must be gone after ObserveDelete")
	}
}

func TestResyncReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	c := New()

	obj := &model.SceneObject{ObjectID: "a", Type: "object", Namespace: "ns", SceneID: "scene"}
	if err := st.Upsert(ctx, obj); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// A key the store never had: resync must evict it.
	stale := key("ns", "scene", "stale")
	c.ObserveCreate(stale)

	if err := c.Resync(ctx, st); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if c.IsPersisted(stale) {
		t.Error("resync must drop keys the store does not have")
	}
	if !c.IsPersisted(obj.Key()) {
		t.Error("resync must pick up keys the store has")
	}
	if c.PersistedCount() != 1 {
		t.Errorf("PersistedCount = %d, want 1", c.PersistedCount())
	}
}

func TestResyncAfterOutOfBandDelete(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	c := New()

	obj := &model.SceneObject{ObjectID: "a", Type: "object", Namespace: "ns", SceneID: "scene"}
	if err := st.Upsert(ctx, obj); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Resync(ctx, st); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if !c.IsPersisted(obj.Key()) {
		t.Fatal("expected key after first resync")
	}

	// Store mutated out-of-band while "disconnected".
	if err := st.DeleteObject(ctx, obj.Key()); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if err := c.Resync(ctx, st); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if c.IsPersisted(obj.Key()) {
		t.Error("key removed out-of-band must be gone after resync")
	}
}

func TestExpirationIndex(t *testing.T) {
	c := New()
	now := time.Now().UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	expired := model.SceneObject{ObjectID: "old", Namespace: "ns", SceneID: "scene", ExpireAt: &past}
	fresh := model.SceneObject{ObjectID: "new", Namespace: "ns", SceneID: "scene", ExpireAt: &future}
	c.SetExpiration(expired)
	c.SetExpiration(fresh)

	due := c.Due(now)
	if len(due) != 1 || due[0].ObjectID != "old" {
		t.Errorf("Due = %v", due)
	}

	// Overwrite without a TTL cancels the pending expiry.
	c.SetExpiration(model.SceneObject{ObjectID: "new", Namespace: "ns", SceneID: "scene"})
	if c.ExpirationCount() != 1 {
		t.Errorf("ExpirationCount = %d, want 1", c.ExpirationCount())
	}

	c.ClearExpiration(expired.Key())
	if c.ExpirationCount() != 0 {
		t.Errorf("ExpirationCount = %d, want 0", c.ExpirationCount())
	}
}

func TestDropScene(t *testing.T) {
	c := New()
	now := time.Now().UTC().Add(time.Hour)

	c.ObserveCreate(key("ns", "s1", "a"))
	c.ObserveCreate(key("ns", "s1", "b"))
	c.ObserveCreate(key("ns", "s2", "c"))
	c.SetExpiration(model.SceneObject{ObjectID: "a", Namespace: "ns", SceneID: "s1", ExpireAt: &now})

	c.DropScene("ns", "s1")

	if c.IsPersisted(key("ns", "s1", "a")) || c.IsPersisted(key("ns", "s1", "b")) {
		t.Error("dropped scene keys must be gone")
	}
	if !c.IsPersisted(key("ns", "s2", "c")) {
		t.Error("other scenes must be untouched")
	}
	if c.ExpirationCount() != 0 {
		t.Error("dropped scene expirations must be gone")
	}
}
